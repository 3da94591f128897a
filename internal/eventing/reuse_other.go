//go:build !unix

package eventing

import "syscall"

func reuseAddr(_, _ string, _ syscall.RawConn) error { return nil }
