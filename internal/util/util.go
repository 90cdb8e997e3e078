package util

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SanitizeLog prevents certain classes of injection attacks before logging
// https://codeql.github.com/codeql-query-help/go/go-log-injection/
func SanitizeLog(log string) string {
	escapedLog := strings.ReplaceAll(log, "\n", "")
	return strings.ReplaceAll(escapedLog, "\r", "")
}

// Is2xxResponse returns true if the given status code is a 2xx response
func Is2xxResponse(statusCode int) bool {
	return statusCode/100 == 2
}

// LoggingErrorMsg logs an error with a message and returns the same error wrapped with that message
func LoggingErrorMsg(err error, msg string) error {
	logrus.WithError(err).Error(SanitizeLog(msg))
	if err == nil {
		return errors.New(msg)
	}
	return errors.Wrap(err, msg)
}

// LoggingErrorMsgf logs an error with a formatted message and returns the wrapped error
func LoggingErrorMsgf(err error, msg string, args ...any) error {
	return LoggingErrorMsg(err, fmt.Sprintf(msg, args...))
}

// LoggingNewError logs and returns a new error with the given message
func LoggingNewError(msg string) error {
	return LoggingErrorMsg(nil, msg)
}
