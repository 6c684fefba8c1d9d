package ingest

import (
	"bufio"
	"net"

	"github.com/phuslu/log"
)

type Conn struct {
	cid   uint64
	tuple []string
	r     *bufio.Reader
	net.Conn
}

func NewConn(c net.Conn, cid uint64) *Conn {
	sourceip, sourceport, _ := net.SplitHostPort(c.RemoteAddr().String())
	targetip, targetport, _ := net.SplitHostPort(c.LocalAddr().String())

	return &Conn{cid, []string{sourceip, sourceport, targetip, targetport}, bufio.NewReader(c), c}
}

// ReadLine returns one newline-delimited frame without the trailing
// delimiter.
func (b *Conn) ReadLine() ([]byte, error) {
	line, err := b.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

func (b *Conn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

func (c *Conn) MarshalObject(e *log.Entry) {
	e.Strs("socket", c.tuple)
}
