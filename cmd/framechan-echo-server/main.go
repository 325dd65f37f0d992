// Command framechan-echo-server listens on a TCP port and serves
// framechantesting.TestServer over this module's frame multiplexer,
// demonstrating framechan.Serve against a real net.Conn rather than
// transport.Loopback.
package main

import (
	"flag"
	"log"
	"net"

	"github.com/framechan/framechan"
	"github.com/framechan/framechan/framechantesting"
)

var addr = flag.String("addr", "127.0.0.1:50051", "address to listen on")

func main() {
	flag.Parse()

	registry := framechan.HandlerMap{}
	registry.RegisterService(&framechantesting.TestServiceDesc, &framechantesting.TestServer{})
	binder := framechan.NewBinder(registry)
	framechantesting.BindCodecs(binder)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	log.Printf("framechan-echo-server listening on %v", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("accept: %v", err)
			continue
		}
		go serve(conn, binder)
	}
}

func serve(conn net.Conn, binder *framechan.Binder) {
	muxConn := framechan.Serve(conn, binder)
	defer muxConn.Close()
	log.Printf("accepted connection from %v", conn.RemoteAddr())
	<-muxConn.Done()
}
