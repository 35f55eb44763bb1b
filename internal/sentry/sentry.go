package sentry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	"wsotp/internal/logger"
)

// ignoredErrors are logged but never sent to Sentry. They come from
// scanners, client disconnects and Telegram edits that changed nothing.
var ignoredErrors = []string{
	"acme/autocert: missing server name",              // TLS without SNI on the control port
	"first record does not look like a TLS handshake", // plain TCP on a TLS port
	"host not configured",                             // SNI outside the autocert host policy
	"connection reset by peer",
	"broken pipe",
	"use of closed network connection",
	"message is not modified",
	"EOF",
}

// Init configures the global Sentry client. An empty DSN disables reporting
// and is not an error.
func Init(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
}

// Flush waits up to timeout for buffered events to be delivered.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

// Middleware returns the gin middleware that puts a hub on each request.
func Middleware() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{Repanic: true})
}

func shouldIgnore(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}

	type timeoutError interface{ Timeout() bool }
	if te, ok := err.(timeoutError); ok && te.Timeout() {
		return true
	}

	errStr := err.Error()
	for _, ignored := range ignoredErrors {
		if strings.Contains(errStr, ignored) {
			return true
		}
	}
	return false
}

// CaptureError logs an error locally and reports it to Sentry.
// Use this for errors outside of HTTP request context (startup, polling,
// cleanup, bot handlers).
func CaptureError(err error, message string) {
	logger.Error("%s: %v", message, err)
	if shouldIgnore(err) {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetExtra("message", message)
		sentry.CaptureException(err)
	})
}

// CaptureErrorWithContext logs an error and reports it with the request's
// hub so URL and method end up on the event.
func CaptureErrorWithContext(c *gin.Context, err error, message string) {
	if shouldIgnore(err) {
		logger.Error("%s: %v", message, err)
		return
	}
	hub := sentrygin.GetHubFromContext(c)
	if hub == nil {
		CaptureError(err, message)
		return
	}
	logger.Error("%s: %v", message, err)
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetExtra("message", message)
		if c.Request != nil {
			scope.SetTag("http.method", c.Request.Method)
			scope.SetTag("http.path", c.Request.URL.Path)
			scope.SetExtra("http.remote_ip", c.ClientIP())
		}
		hub.CaptureException(err)
	})
}

// CaptureErrorf logs and reports an error with a formatted message.
func CaptureErrorf(err error, format string, args ...interface{}) {
	CaptureError(err, fmt.Sprintf(format, args...))
}
