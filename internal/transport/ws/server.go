package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"gridtown.io/internal/world"
)

const (
	writeTimeout = 5 * time.Second

	// generous: the world's own ping timer disconnects idle clients
	// long before this trips
	readTimeout = 10 * time.Minute
)

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // browser clients come from anywhere
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		out := make(chan []byte, 128)
		respCh := make(chan int64, 1)
		s.world.Connect() <- world.ConnectRequest{
			Out: out,
			// expiring the read deadline unblocks the reader right
			// away without cutting off any frame still in flight
			Close: func() {
				cancel()
				_ = conn.SetReadDeadline(time.Now())
			},
			Resp: respCh,
		}
		connID := <-respCh

		// Writer goroutine. When the world drops the client it cancels
		// ctx; any frames it queued first (the disconnect reason) are
		// flushed before the socket closes.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					for {
						select {
						case b := <-out:
							_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
							_ = conn.WriteMessage(websocket.TextMessage, b)
						default:
							return
						}
					}
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Raw frames go to the world untouched; it owns
		// all parsing and validation.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			select {
			case s.world.Inbox() <- world.Envelope{ConnID: connID, Raw: msg}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		cancel()
		<-writerDone
		s.world.Leave() <- connID
	}
}
