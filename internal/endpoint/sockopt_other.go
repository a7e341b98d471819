//go:build !unix

package endpoint

import "syscall"

func control(syscall.RawConn, bool) error {
	return nil
}
