// Program cncbootsim is a software stand-in for the device side of the
// protocol: it speaks BCP's device role over a Unix domain socket,
// backed by an in-memory flash (internal/bootloader/simflash). It
// exists to drive cncControl end-to-end without real hardware — it does
// not reimplement the I2C/interrupt/MCU glue spec.md excludes, only the
// in-scope device-role BCP dispatch and page-buffered flash handler.
package main

import (
	"flag"
	"log"
	"net"
	"os"

	"github.com/newrupturesystems/cnc1/internal/bcp"
	"github.com/newrupturesystems/cnc1/internal/bootloader"
	"github.com/newrupturesystems/cnc1/internal/bootloader/simflash"
	"github.com/newrupturesystems/cnc1/internal/transport"
)

const (
	flashPageSize = 128
	flashEnd      = 0x8000
)

var socketPath = flag.String("socket", "/tmp/cncbootsim.sock", "unix domain socket to listen on")

func main() {
	flag.Parse()

	os.Remove(*socketPath)
	ln, err := net.Listen("unix", *socketPath)
	if err != nil {
		log.Fatalf("failed to listen on %q: %v", *socketPath, err)
	}
	defer ln.Close()

	log.Printf("cncbootsim: listening on %s", *socketPath)
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("cncbootsim: accept: %v", err)
			continue
		}
		go serve(conn)
	}
}

func serve(conn net.Conn) {
	defer conn.Close()

	link := transport.NewPipe(conn, conn)
	dev := bcp.OpenDevice(link)
	flash := simflash.New(flashEnd)
	handler := bootloader.New(flash, flashPageSize, flashEnd)

	for {
		if err := dev.HandleRequest(handler.MemRead, handler.MemWrite); err != nil {
			log.Printf("cncbootsim: session ended: %v", err)
			return
		}
	}
}
