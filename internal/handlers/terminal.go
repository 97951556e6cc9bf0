package handlers

import (
	"log"
	"net/http"

	"github.com/1314ysys/WebTerminalTool/internal/audit"
	"github.com/1314ysys/WebTerminalTool/internal/logutil"
	"github.com/1314ysys/WebTerminalTool/internal/wschannel"
	"github.com/coder/websocket"
)

// NotFoundReason is the close reason sent for an unknown or used session id.
const NotFoundReason = "connection failed, check the connection details"

// Terminal attaches a browser WebSocket to the session named by the id query
// parameter. Each id can be attached once; later attempts are closed with
// code 4004.
func (h *Handler) Terminal(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[terminal] failed to accept websocket: %v", err)
		return
	}
	defer ws.CloseNow()

	client := wschannel.New(ws, h.WSReadLimit)
	id := r.URL.Query().Get("id")
	tag := logutil.Fingerprint(id)
	ip := sourceIP(r)

	b, err := h.Registry.Consume(id)
	if err == nil {
		err = b.AttachClient(client)
	}
	if err != nil {
		log.Printf("[terminal] attach %s from %s rejected: %v", tag, ip, err)
		h.Metrics.AttachRejected()
		h.audit(audit.EventAttachRejected, audit.Entry{
			SessionID: tag,
			SourceIP:  ip,
			Details:   err.Error(),
		})
		client.CloseWithStatus(wschannel.StatusSessionNotFound, NotFoundReason)
		return
	}

	st := b.Stats()
	log.Printf("[terminal] session %s attached from %s", tag, ip)
	h.audit(audit.EventClientAttached, audit.Entry{
		SessionID: tag,
		Address:   st.Addr,
		SourceIP:  ip,
	})

	ctx := r.Context()
	served := make(chan struct{})
	go func() {
		defer close(served)
		b.ServeClient(ctx)
	}()

	b.Run(ctx)
	// The bridge closed the channel gracefully if it could; make sure a
	// blocked Receive returns either way.
	ws.CloseNow()
	<-served

	log.Printf("[terminal] session %s detached: %s", tag, b.Stats().CloseReason)
}
