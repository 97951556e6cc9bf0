package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/1314ysys/WebTerminalTool/internal/logutil"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Initial PTY size; browsers resize through the shell itself.
const (
	ptyRows = 24
	ptyCols = 80
)

var errHostKeyMismatch = errors.New("host key mismatch")

// sshSession is an interactive shell channel on its own SSH connection.
type sshSession struct {
	*streamSession
	client  *ssh.Client
	session *ssh.Session
}

func openSSH(ctx context.Context, target Target, creds Credentials, opts Options) (Session, error) {
	addr := target.Addr()

	auth, err := authMethods(creds)
	if err != nil {
		return nil, err
	}
	hostKeyCallback, err := hostKeyChecker(opts.KnownHostsPath)
	if err != nil {
		return nil, &ConnectError{Kind: FailureSessionSetup, Message: "known hosts file unavailable", Cause: err}
	}

	cfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.Timeout,
	}

	var dialer net.Dialer
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(addr, err)
	}

	// The handshake and shell setup share the establishment deadline.
	if deadline, ok := ctx.Deadline(); ok {
		netConn.SetDeadline(deadline)
	}
	stopCancelWatch := context.AfterFunc(ctx, func() {
		netConn.SetDeadline(time.Now())
	})

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		stopCancelWatch()
		netConn.Close()
		return nil, classifyHandshakeError(addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	s, err := startShell(client, addr, opts)
	if !stopCancelWatch() && err == nil {
		s.Close()
		return nil, classifyDialError(addr, ctx.Err())
	}
	if err != nil {
		client.Close()
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &ConnectError{Kind: FailureTimeout, Message: "shell setup on " + addr + " timed out", Cause: err}
		}
		return nil, &ConnectError{Kind: FailureSessionSetup, Message: "unable to start shell on " + addr, Cause: err}
	}
	netConn.SetDeadline(time.Time{})

	log.Printf("[remote] ssh session established to %s as %s", addr, logutil.SanitizeForLog(creds.Username))
	return s, nil
}

func startShell(client *ssh.Client, addr string, opts Options) (*sshSession, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(opts.Term, ptyRows, ptyCols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	s := &sshSession{client: client, session: session}
	s.streamSession = newStreamSession(ProtocolSSH, addr, stdin, s.release, opts)
	session.Stdout = s.buf
	session.Stderr = s.buf

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	go func() {
		s.finish(session.Wait())
	}()
	return s, nil
}

func (s *sshSession) release() error {
	s.session.Close()
	return s.client.Close()
}

func authMethods(creds Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if len(creds.PrivateKey) > 0 {
		signer, err := parsePrivateKey(creds.PrivateKey, creds.Passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if creds.Password != "" || len(methods) == 0 {
		password := creds.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	return methods, nil
}

func parsePrivateKey(pemBytes []byte, passphrase string) (ssh.Signer, error) {
	var (
		signer ssh.Signer
		err    error
	)
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pemBytes)
	}
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, &ConnectError{Kind: FailureAuth, Message: "private key is encrypted, a passphrase is required", Cause: err}
	}
	return nil, &ConnectError{Kind: FailureAuth, Message: "invalid private key", Cause: err}
}

func classifyHandshakeError(addr string, err error) *ConnectError {
	var netErr net.Error
	switch {
	case errors.Is(err, errHostKeyMismatch) || strings.Contains(err.Error(), errHostKeyMismatch.Error()):
		return &ConnectError{Kind: FailureHostKeyMismatch, Message: "host key for " + addr + " does not match the recorded key", Cause: err}
	case strings.Contains(err.Error(), "unable to authenticate"):
		return &ConnectError{Kind: FailureAuth, Message: "authentication failed", Cause: err}
	case errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) || strings.Contains(err.Error(), "i/o timeout"):
		return &ConnectError{Kind: FailureTimeout, Message: "ssh handshake with " + addr + " timed out", Cause: err}
	}
	return &ConnectError{Kind: FailureSessionSetup, Message: "ssh handshake with " + addr + " failed", Cause: err}
}

var knownHostsMu sync.Mutex

// hostKeyChecker verifies host keys against the known_hosts file at path and
// records keys of hosts seen for the first time. An empty path disables
// verification.
func hostKeyChecker(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create known hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open known hosts: %w", err)
	}
	f.Close()

	return func(hostname string, remoteAddr net.Addr, key ssh.PublicKey) error {
		knownHostsMu.Lock()
		defer knownHostsMu.Unlock()

		check, err := knownhosts.New(path)
		if err != nil {
			return fmt.Errorf("load known hosts: %w", err)
		}
		err = check(hostname, remoteAddr, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return fmt.Errorf("%w for %s", errHostKeyMismatch, hostname)
		}

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("record host key: %w", err)
		}
		defer f.Close()
		line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
		if _, err := f.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("record host key: %w", err)
		}
		log.Printf("[remote] recorded new %s host key for %s (%s)", key.Type(), logutil.SanitizeForLog(hostname), ssh.FingerprintSHA256(key))
		return nil
	}, nil
}
