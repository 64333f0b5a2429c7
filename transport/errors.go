package transport

import "github.com/pkg/errors"

var errNotTCPConn = errors.New("transport: not a *net.TCPConn")
