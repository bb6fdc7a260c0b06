// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/plan44dev/vdc-host/rpc"
	"github.com/plan44dev/vdc-host/vdchost"
)

// upgrader accepts any origin: vdc-host is a LAN-local bridge process,
// not a public web service (mirrors the original's "any local client may
// connect" trust model, spec.md §1).
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWebsocket upgrades r to a websocket connection and runs a simple
// read-dispatch-write loop against host's RPC dispatcher, one frame at a
// time, handing every dispatch call to host's Bus so state mutation stays
// on the single main-loop goroutine (spec.md §5).
func serveWebsocket(host *vdchost.VdcHost, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	attached := make(chan struct{})
	host.Bus.Post(func() {
		host.Session = &rpc.Session{Conn: conn}
		close(attached)
	})
	<-attached

	for {
		var req rpc.Request
		if err := conn.ReadJSON(&req); err != nil {
			detached := make(chan struct{})
			host.Bus.Post(func() {
				host.Session.Reset()
				close(detached)
			})
			<-detached
			return nil
		}

		respCh := make(chan rpc.Response, 1)
		host.Bus.Post(func() {
			respCh <- host.Dispatch(req)
		})
		resp := <-respCh

		if err := conn.WriteJSON(resp); err != nil {
			return err
		}
	}
}

// newHTTPHandler wires the single websocket endpoint north-bound
// connections use, per spec.md §6/§7.
func newHTTPHandler(host *vdchost.VdcHost) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1", func(w http.ResponseWriter, r *http.Request) {
		if err := serveWebsocket(host, w, r); err != nil {
			host.Log.Warnf("websocket session ended: %v", err)
		}
	})
	return mux
}
