package device

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.bug.st/serial"

	"github.com/orrn/labelstream/internal/config"
)

const (
	defaultTCPPort          = 9100
	defaultReadWriteTimeout = 10 * time.Second
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrTimeout          = errors.New("operation timed out")
)

// Link is an open byte channel to the printer.
type Link interface {
	io.Writer
	io.Closer
	// Query writes cmd and reads exactly len(reply) bytes back.
	Query(cmd, reply []byte) error
}

// Dial opens the transport selected in cfg.
func Dial(cfg config.DeviceConfig) (Link, error) {
	timeout := cfg.ConnectionTimeout
	if timeout == 0 {
		timeout = defaultReadWriteTimeout
	}

	switch cfg.Transport {
	case "serial":
		l, err := openSerial(cfg.SerialPort, cfg.BaudRate, timeout)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "tcp", "":
		port := cfg.Port
		if port == 0 {
			port = defaultTCPPort
		}
		l, err := dialTCP(net.JoinHostPort(cfg.Address, strconv.Itoa(port)), timeout)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

type tcpLink struct {
	conn    net.Conn
	timeout time.Duration
}

func dialTCP(address string, timeout time.Duration) (*tcpLink, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return &tcpLink{conn: conn, timeout: timeout}, nil
}

func (l *tcpLink) Write(p []byte) (int, error) {
	_ = l.conn.SetDeadline(time.Now().Add(l.timeout))
	return l.conn.Write(p)
}

func (l *tcpLink) Query(cmd, reply []byte) error {
	_ = l.conn.SetDeadline(time.Now().Add(l.timeout))
	if _, err := l.conn.Write(cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if _, err := io.ReadFull(l.conn, reply); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return ErrTimeout
		}
		return fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	return nil
}

func (l *tcpLink) Close() error {
	return l.conn.Close()
}

// serialLink talks to a serial device, typically a Bluetooth RFCOMM
// port such as /dev/rfcomm0.
type serialLink struct {
	port serial.Port
}

func openSerial(name string, baud int, timeout time.Duration) (*serialLink, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open port %s: %v", ErrConnectionFailed, name, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}
	return &serialLink{port: port}, nil
}

func (l *serialLink) Write(p []byte) (int, error) {
	return l.port.Write(p)
}

// Query reads until reply is full. A read that returns no bytes means
// the port read timeout expired.
func (l *serialLink) Query(cmd, reply []byte) error {
	if _, err := l.port.Write(cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	for got := 0; got < len(reply); {
		n, err := l.port.Read(reply[got:])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidStatus, err)
		}
		if n == 0 {
			return ErrTimeout
		}
		got += n
	}
	return nil
}

func (l *serialLink) Close() error {
	return l.port.Close()
}
