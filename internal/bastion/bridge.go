package bastion

import (
	"encoding/binary"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// bridge implements the Channel Bridge (C9, spec §5 "Channel Bridge"): it
// ferries bytes between the client's session channel and an outbound
// target session's stdin/stdout/stderr pipes, feeding every byte through
// the ConnectTarget's attached Recorder before forwarding it, and closes
// both ends once the outbound command exits or either side's stream ends.
func bridge(c *ConnectTarget, clientCh ssh.Channel, outIn io.WriteCloser, outOut, outErr io.Reader, outSession *ssh.Session) {
	var once sync.Once
	finish := func() {
		once.Do(func() {
			_ = clientCh.Close()
			_ = outIn.Close()
		})
	}
	defer finish()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024)
		for {
			n, err := outOut.Read(buf)
			if n > 0 {
				c.mu.Lock()
				rec := c.rec
				c.mu.Unlock()
				rec.HandleOutput(buf[:n])
				if _, werr := clientCh.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024)
		for {
			n, err := outErr.Read(buf)
			if n > 0 {
				c.mu.Lock()
				rec := c.rec
				c.mu.Unlock()
				rec.HandleOutput(buf[:n])
				if _, werr := clientCh.Stderr().Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := clientCh.Read(buf)
			if n > 0 {
				c.mu.Lock()
				rec := c.rec
				c.mu.Unlock()
				rec.HandleInput(buf[:n])
				if _, werr := outIn.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				finish()
				return
			}
		}
	}()

	wg.Wait()

	exitCode := 0
	if err := outSession.Wait(); err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			exitCode = exitErr.ExitStatus()
		} else {
			exitCode = -1
		}
	}

	status := make([]byte, 4)
	binary.BigEndian.PutUint32(status, uint32(exitCode))
	_, _ = clientCh.SendRequest("exit-status", false, status)

	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()
	rec.HandleExit(exitCode)

	finish()
}
