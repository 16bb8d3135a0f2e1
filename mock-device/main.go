// Command mock-device stands in for a microcontroller running echo
// firmware, reachable as tcp://localhost:9999 for development without
// hardware.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"strings"
)

const banner = "mock device ready\n"

func main() {
	addr := flag.String("addr", ":9999", "TCP listen address")
	upper := flag.Bool("upper", false, "Echo letters in upper case")
	flag.Parse()

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Println("Failed to start mock device:", err)
		return
	}
	defer listener.Close()

	fmt.Println("=== Mock Device ===")
	fmt.Println("Listening on TCP", *addr)
	fmt.Println("Waiting for connections...")

	for {
		conn, err := listener.Accept()
		if err != nil {
			fmt.Println("Accept error:", err)
			continue
		}
		fmt.Println("[MockDevice] Client connected:", conn.RemoteAddr())
		go handleConnection(conn, *upper)
	}
}

func handleConnection(conn net.Conn, upper bool) {
	defer conn.Close()

	if _, err := io.WriteString(conn, banner); err != nil {
		return
	}

	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			fmt.Println("[MockDevice] Connection closed")
			return
		}
		if _, err := conn.Write(echo(buf[:n], upper)); err != nil {
			fmt.Println("[MockDevice] Write error:", err)
			return
		}
	}
}

// echo returns what the firmware sends back for p. Line endings come
// back as CRLF the way a terminal-oriented firmware prints them.
func echo(p []byte, upper bool) []byte {
	s := string(p)
	if upper {
		s = strings.ToUpper(s)
	}
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	return []byte(s)
}
