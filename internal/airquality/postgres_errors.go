package airquality

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// classifyError wraps err for op. Failures that mean the database could not
// be reached become *ConnectionError; everything else is wrapped as is.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectionFailure(err) {
		return &ConnectionError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectionFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception; 57P01..57P03 are admin
		// shutdown, crash shutdown and cannot connect now.
		return strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "57P01" ||
			pgErr.Code == "57P02" ||
			pgErr.Code == "57P03"
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return strings.Contains(err.Error(), "closed pool")
}
