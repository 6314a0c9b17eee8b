package handlers

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"realtime-chat/internal/repositories"
)

const internalErrorMessage = "Internal server error"

// protocolError is reported back to the originating connection verbatim.
type protocolError struct {
	message string
}

func (e *protocolError) Error() string { return e.message }

func protocolErrorf(format string, args ...any) error {
	return &protocolError{message: fmt.Sprintf(format, args...)}
}

func isNotFound(err error) bool {
	return errors.Is(err, repositories.ErrUserNotFound) ||
		errors.Is(err, repositories.ErrConnectionNotFound) ||
		errors.Is(err, repositories.ErrMessageNotFound)
}

// classify maps a route error to the text sent back to the client. An empty
// result means nothing is sent.
func classify(log *logrus.Entry, err error) string {
	if err == nil {
		return ""
	}
	var perr *protocolError
	switch {
	case errors.As(err, &perr):
		return perr.message
	case isNotFound(err):
		log.WithError(err).Debug("route target not found")
		return ""
	default:
		log.WithError(err).Error("route failed")
		return internalErrorMessage
	}
}
