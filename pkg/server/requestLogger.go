package server

import (
	"net"
	"net/http"
	"strings"

	"github.com/d4l-data4life/go-svc/pkg/d4lcontext"
	"github.com/d4l-data4life/go-svc/pkg/log"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// clientHeader names the UI build that sent a request
const clientHeader = "X-Chat-Client"

// RequestLogger sets up the middleware to log requests
func RequestLogger() func(http.Handler) http.Handler {
	return logging.Logger().HTTPMiddleware(
		log.WithUserParser(d4lcontext.GetUserIDString),
		log.WithClientIDParser(clientID),
		log.WithCallerIPParser(callerIP),
		log.WithObfuscators(),
	)
}

// callerIP strips the port from the address RealIP left on the request
func callerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clientID(r *http.Request) string {
	if c := strings.TrimSpace(r.Header.Get(clientHeader)); c != "" {
		return c
	}
	return d4lcontext.GetClientID(r)
}
