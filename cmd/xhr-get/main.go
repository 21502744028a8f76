package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"dqx0.com/go/webcompat/xhrx"
)

type headerList []string

func (h *headerList) String() string { return strings.Join(*h, ", ") }
func (h *headerList) Set(v string) error {
	*h = append(*h, v)
	return nil
}

func main() {
	method := flag.String("X", "GET", "request method")
	sync := flag.Bool("sync", false, "use the blocking strategy")
	var headers headerList
	flag.Var(&headers, "H", "request header as 'Name: value' (repeatable)")
	flag.Parse()
	rawurl := flag.Arg(0)
	if rawurl == "" {
		log.Fatal("usage: xhr-get [-X method] [-sync] [-H 'Name: value'] url")
	}

	r := xhrx.New()
	if err := r.Open(*method, rawurl, !*sync); err != nil {
		log.Fatal(err)
	}
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			log.Fatalf("bad header %q", h)
		}
		if err := r.SetRequestHeader(strings.TrimSpace(name), strings.TrimSpace(value)); err != nil {
			log.Fatal(err)
		}
	}

	done := make(chan struct{})
	r.AddEventListener(xhrx.EventLoadEnd, func(*xhrx.Request) { close(done) })
	r.AddEventListener(xhrx.EventError, func(*xhrx.Request) { close(done) })
	if err := r.Send(nil); err != nil {
		log.Fatal(err)
	}
	if !*sync {
		<-done
	}

	if err := r.Err(); err != nil {
		log.Fatal(err)
	}
	fmt.Fprintln(os.Stderr, r.Status(), r.StatusText())
	fmt.Print(r.ResponseText())
}
