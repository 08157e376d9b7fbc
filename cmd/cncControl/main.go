// Program cncControl is the host-side CLI for the CNC1 bootloader: it
// streams an Intel-HEX application image to a device over BCP, then
// verifies it. Structurally this is tinkerator-qftool's flag-driven,
// single-tty CLI retargeted at BCP instead of the TinyFPGA SPI-bootloader
// protocol: same shape (open tty, run one operation, report progress),
// different wire protocol underneath.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/newrupturesystems/cnc1/internal/bcp"
	"github.com/newrupturesystems/cnc1/internal/bootloader"
	"github.com/newrupturesystems/cnc1/internal/flashsession"
	"github.com/newrupturesystems/cnc1/internal/ihex"
	"github.com/newrupturesystems/cnc1/internal/transport"
	"zappem.net/pub/debug/xcrc32"
	"zappem.net/pub/debug/xxd"
)

var (
	tty  = flag.String("tty", "/dev/ttyACM0", "character device the USB<->I2C bridge presents to the host")
	baud = flag.Int("baud", 115200, "baud rate for -tty")
	rate = flag.Uint("rate", 2, "progress callback rate, in percent (0 disables progress output)")
)

func main() {
	flag.Parse()
	if flag.NArg() < 1 {
		outputUsage()
		os.Exit(1)
	}

	link, err := transport.Open(*tty, *baud)
	if err != nil {
		log.Fatalf("unable to open serial port %q: %v", *tty, err)
	}
	defer link.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT)
	go func() {
		<-sig
		link.RequestShutdown()
	}()

	host, err := bcp.OpenHost(link)
	if err != nil {
		log.Fatalf("failed to open BCP interface to device: %v", err)
	}
	defer host.Close()

	switch flag.Arg(0) {
	case "flash":
		if flag.NArg() != 2 {
			log.Fatal("option 'flash' expects <filename>")
		}
		if err := runFlash(host, flag.Arg(1)); err != nil {
			log.Fatalf("%v", err)
		}

	case "dump":
		if flag.NArg() != 3 {
			log.Fatal("option 'dump' expects <address> <count>")
		}
		if err := runDump(host, flag.Arg(1), flag.Arg(2)); err != nil {
			log.Fatalf("%v", err)
		}

	case "info":
		if err := runInfo(host); err != nil {
			log.Fatalf("%v", err)
		}

	default:
		outputUsage()
		os.Exit(1)
	}
}

func outputUsage() {
	fmt.Println("Usage: cncControl [flags] <command> ...")
	fmt.Println("Commands:")
	fmt.Println("   flash <filename>        write and verify an Intel Hex file")
	fmt.Println("   dump <address> <count>  hex-dump device memory")
	fmt.Println("   info                    report device identity and flash status")
}

func runFlash(host *bcp.Host, filename string) error {
	fmt.Printf("--Flashing Device--\nimage fingerprint: %08X\n", hexFileCRC32(filename))

	session, err := flashsession.Open(host, filename)
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Print("Writing:\n[")
	if err := session.Write(progressTick, uint8(*rate)); err != nil {
		fmt.Println("]")
		return err
	}

	fmt.Print("]\nVerifying:\n[")
	if err := session.Verify(progressTick, uint8(*rate)); err != nil {
		fmt.Println("]")
		return err
	}
	fmt.Println("]")

	pages, size, err := session.GetSize()
	if err != nil {
		fmt.Println("Device successfully flashed (#, #)")
		return nil
	}
	fmt.Printf("Device successfully flashed (%d pages, %d bytes)\n", pages, size)
	return nil
}

func progressTick() {
	fmt.Print("#")
}

// hexFileCRC32 computes a diagnostic CRC-32 "image fingerprint" over the
// flattened data bytes of the HEX file. It never participates in the
// wire protocol, which has its own CRC-8 (internal/bcp); it exists
// purely so the operator can cross-reference a build's image against
// what was actually streamed, the same role xcrc32 plays in
// tinkerator-qftool's per-section metadata.
func hexFileCRC32(filename string) uint32 {
	r, err := ihex.Open(filename)
	if err != nil {
		return 0
	}
	defer r.Close()

	var buf bytes.Buffer
	for {
		_, data, _, err := r.NextData()
		if err != nil || data == nil {
			break
		}
		buf.Write(data)
	}

	_, crc := xcrc32.NewCRC32(buf.Bytes())
	return crc
}

func runDump(host *bcp.Host, addrArg, countArg string) error {
	addr, err := strconv.ParseUint(addrArg, 0, 64)
	if err != nil {
		return fmt.Errorf("bad address %q: %v", addrArg, err)
	}
	count, err := strconv.Atoi(countArg)
	if err != nil || count <= 0 {
		return fmt.Errorf("bad count %q", countArg)
	}

	if err := host.SetAddress(addr); err != nil {
		return err
	}
	if err := host.SetFlags(bcp.FlagAddrInc); err != nil {
		return err
	}

	out := make([]byte, 0, count)
	for remaining := count; remaining > 0; {
		chunk := remaining
		if chunk > 8 {
			chunk = 8
		}
		buf := make([]byte, chunk)
		if err := host.ReadMemory(buf); err != nil {
			return err
		}
		out = append(out, buf...)
		remaining -= chunk
	}

	xxd.Print(int(addr), out)
	return nil
}

func runInfo(host *bcp.Host) error {
	var id [8]byte
	if err := host.SetAddress(bootloader.AddrBootIDBase); err != nil {
		return err
	}
	if err := host.ReadMemory(id[:]); err != nil {
		return err
	}

	var pages [1]byte
	if err := host.SetAddress(bootloader.AddrPageCount); err != nil {
		return err
	}
	if err := host.ReadMemory(pages[:]); err != nil {
		return err
	}

	fmt.Printf("identifier: %q\n", id[:])
	fmt.Printf("pages committed since last unlock: %d\n", pages[0])
	return nil
}
