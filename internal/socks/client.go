package socks

import (
	"bytes"
	"fmt"
	"io"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// ReplyError is a SOCKS5 reply other than success.
type ReplyError struct {
	Rep byte
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("socks5 reply 0x%02x", e.Rep)
}

// Dial runs a no-auth SOCKS5 CONNECT to address over conn. Each frame goes
// out in a single write.
func Dial(conn net.Conn, address string) error {
	if err := writeFrame(conn, txsocks5.NewNegotiationRequest([]byte{txsocks5.MethodNone})); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}
	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}
	if neg.Method != txsocks5.MethodNone {
		return fmt.Errorf("unsupported negotiation method: %d", neg.Method)
	}

	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	if atyp == txsocks5.ATYPDomain {
		dstAddr = dstAddr[1:]
	}
	if err := writeFrame(conn, txsocks5.NewRequest(txsocks5.CmdConnect, atyp, dstAddr, dstPort)); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return &ReplyError{Rep: rep.Rep}
	}
	return nil
}

func writeFrame(conn net.Conn, frame io.WriterTo) error {
	var buf bytes.Buffer
	if _, err := frame.WriteTo(&buf); err != nil {
		return err
	}
	_, err := conn.Write(buf.Bytes())
	return err
}
