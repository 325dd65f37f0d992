// Command framechan-echo-client dials a framechan-echo-server and issues a
// single unary echo call, demonstrating framechan.Dial against a real
// net.Conn.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"time"

	"github.com/framechan/framechan"
	"github.com/framechan/framechan/framechantesting"
)

var (
	addr    = flag.String("addr", "127.0.0.1:50051", "server address to dial")
	message = flag.String("message", "hello, world!", "payload to echo")
)

func main() {
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}

	ch := framechan.Dial(conn)
	framechantesting.BindCodecs(ch)
	cli := framechantesting.NewTestServiceClient(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := cli.Unary(ctx, &framechantesting.Message{Payload: []byte(*message)})
	if err != nil {
		log.Fatalf("Unary: %v", err)
	}
	log.Printf("echoed: %q", string(resp.Payload))
}
