package main

import (
	"log"
	"net"

	"github.com/yusuf-mak/loomws"
)

// Minimal echo server: one goroutine per connection, reading messages and
// writing them straight back.
func main() {
	upgrader := loomws.NewUpgrader(nil)

	ln, err := net.Listen("tcp", ":8080")
	if err != nil {
		log.Fatal(err)
	}
	log.Println("echo server on :8080")

	err = upgrader.Serve(ln, func(conn *loomws.Conn) {
		for {
			opcode, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(opcode, payload); err != nil {
				return
			}
		}
	})
	log.Fatal(err)
}
