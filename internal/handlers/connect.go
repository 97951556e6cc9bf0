package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/1314ysys/WebTerminalTool/internal/audit"
	"github.com/1314ysys/WebTerminalTool/internal/bridge"
	"github.com/1314ysys/WebTerminalTool/internal/logutil"
	"github.com/1314ysys/WebTerminalTool/internal/remote"
)

const (
	// MaxPrivateKeyBytes caps an uploaded private key.
	MaxPrivateKeyBytes = 16 * 1024
	maxConnectFormSize = MaxPrivateKeyBytes + 64*1024
)

type connectResponse struct {
	ID     *string   `json:"id"`
	Status string    `json:"status"`
	Error  *apiError `json:"error,omitempty"`
}

// connectRequest is the parsed session creation form.
type connectRequest struct {
	target remote.Target
	creds  remote.Credentials
}

// Connect opens a remote session and registers a bridge for it.
//
// Form fields (urlencoded or multipart):
//
//	hostname   - remote host (required)
//	port       - remote port, empty for the protocol default
//	username   - login name
//	password   - password, also used for keyboard-interactive prompts
//	protocol   - "ssh" or "telnet"
//	privatekey - optional file, at most 16 KiB (SSH only)
//	passphrase - optional private key passphrase
//
// Invalid input answers 400. Connection failures answer 200 with id null,
// since the browser form reads the status field.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	ip := sourceIP(r)

	req, kind, err := parseConnectForm(w, r)
	if err != nil {
		log.Printf("[connect] rejected request from %s: %v", ip, err)
		h.Metrics.ConnectFailed(kind)
		writeConnectFailure(w, http.StatusBadRequest, kind, err.Error())
		return
	}

	target := req.target
	session, err := h.Open(r.Context(), target, req.creds, h.remoteOptions(target.Protocol))
	if err != nil {
		kind := string(remote.FailureSessionSetup)
		message := err.Error()
		var ce *remote.ConnectError
		if errors.As(err, &ce) {
			kind = string(ce.Kind)
			message = ce.Message
		}
		log.Printf("[connect] %s connection to %s as %s failed (%s): %v",
			target.Protocol, logutil.SanitizeForLog(target.Addr()), logutil.SanitizeForLog(req.creds.Username), kind, err)
		h.Metrics.ConnectFailed(kind)
		h.audit(audit.EventConnectionFailed, audit.Entry{
			Protocol: string(target.Protocol),
			Address:  target.Addr(),
			Username: req.creds.Username,
			SourceIP: ip,
			Details:  kind + ": " + message,
		})
		writeConnectFailure(w, http.StatusOK, kind, message)
		return
	}

	b := bridge.New(session, bridge.Options{
		PollInterval: h.PollInterval,
		Debug:        h.Debug,
		OnClose:      h.sessionClosed(target.Protocol, req.creds.Username, ip),
	})
	id, err := h.Registry.Register(b)
	if err != nil {
		log.Printf("[connect] register session for %s: %v", session.Addr(), err)
		b.Close("registration failed")
		writeConnectFailure(w, http.StatusInternalServerError, kindInternal, "failed to register session")
		return
	}

	// Only the creator learns id; logs and audit rows carry its fingerprint.
	tag := logutil.Fingerprint(id)
	log.Printf("[connect] session %s: %s %s as %s from %s",
		tag, target.Protocol, session.Addr(), logutil.SanitizeForLog(req.creds.Username), ip)
	h.Metrics.SessionCreated(string(target.Protocol))
	h.audit(audit.EventSessionCreated, audit.Entry{
		SessionID: tag,
		Protocol:  string(target.Protocol),
		Address:   session.Addr(),
		Username:  req.creds.Username,
		SourceIP:  ip,
	})

	writeJSON(w, http.StatusOK, connectResponse{ID: &id, Status: "success"})
}

func writeConnectFailure(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, connectResponse{
		Status: "Error: " + message,
		Error:  &apiError{Kind: kind, Message: message},
	})
}

// parseConnectForm validates the form. On error it also returns the failure
// kind reported to the client.
func parseConnectForm(w http.ResponseWriter, r *http.Request) (connectRequest, string, error) {
	var req connectRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxConnectFormSize)
	if err := r.ParseMultipartForm(maxConnectFormSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return req, kindInvalidRequest, fmt.Errorf("invalid form: %w", err)
	}

	protocol, err := remote.ParseProtocol(r.FormValue("protocol"))
	if err != nil {
		return req, string(remote.FailureUnsupportedProtocol), err
	}

	host := strings.TrimSpace(r.FormValue("hostname"))
	if host == "" {
		return req, string(remote.FailureInvalidTarget), errors.New("hostname is required")
	}

	port := 0
	if v := strings.TrimSpace(r.FormValue("port")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 65535 {
			return req, string(remote.FailureInvalidTarget), fmt.Errorf("invalid port %q", v)
		}
		port = n
	}

	req.target = remote.Target{Protocol: protocol, Host: host, Port: port}
	req.creds = remote.Credentials{
		Username:   r.FormValue("username"),
		Password:   r.FormValue("password"),
		Passphrase: r.FormValue("passphrase"),
	}

	key, err := readPrivateKey(r)
	if err != nil {
		return req, kindInvalidRequest, err
	}
	req.creds.PrivateKey = key
	return req, "", nil
}

func readPrivateKey(r *http.Request) ([]byte, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	f, _, err := r.FormFile("privatekey")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	defer f.Close()

	key, err := io.ReadAll(io.LimitReader(f, MaxPrivateKeyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	if len(key) > MaxPrivateKeyBytes {
		return nil, fmt.Errorf("private key exceeds %d bytes", MaxPrivateKeyBytes)
	}
	if len(key) == 0 {
		return nil, nil
	}
	return key, nil
}

// sessionClosed records the end of a bridged session.
func (h *Handler) sessionClosed(protocol remote.Protocol, username, ip string) func(*bridge.Bridge) {
	return func(b *bridge.Bridge) {
		st := b.Stats()
		h.Metrics.SessionClosed(string(protocol), st.BytesToClient, st.BytesToRemote, st.Duration())
		h.audit(audit.EventSessionClosed, audit.Entry{
			SessionID:  logutil.Fingerprint(st.ID),
			Protocol:   string(protocol),
			Address:    st.Addr,
			Username:   username,
			SourceIP:   ip,
			Details:    st.CloseReason,
			BytesIn:    st.BytesToRemote,
			BytesOut:   st.BytesToClient,
			DurationMs: st.Duration().Milliseconds(),
		})
	}
}
