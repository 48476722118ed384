package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/gregoryginzburg/vscode-masm/debugger"
	"github.com/gregoryginzburg/vscode-masm/utils"
	"github.com/gregoryginzburg/vscode-masm/utils/gosync"
)

// RunServer listens on the fixed port, serves a single client to
// termination and returns.
func RunServer(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	defer listener.Close()
	logrus.Infof("started listening at: %s", listener.Addr().String())

	conn, err := listener.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()
	logrus.Infof("client connected from %s", conn.RemoteAddr())

	session := NewDebugSession(conn)
	session.Serve()
	logrus.Infof("client disconnected, server closing connection")
	return nil
}

// RunStdio binds a session to the process standard streams.
func RunStdio() error {
	session := NewDebugSession(stdioConn{})
	session.Serve()
	logrus.Infof("closing stdio session")
	return nil
}

// stdioConn adapts the standard streams to the connection shape the
// session wants. The streams are raw byte pipes; no text translation
// happens on them.
type stdioConn struct{}

func (stdioConn) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioConn) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

// DebugSession 调试会话: couples one DAP client to one debugger instance.
type DebugSession struct {
	id string
	// rw is used to read requests and write events/responses
	rw        *bufio.ReadWriter
	sendMutex sync.Mutex

	debugger debugger.Debugger
	// newDebugger builds the backend on launch; swapped out in tests
	newDebugger func() (debugger.Debugger, error)

	terminate *utils.Signal
}

func NewDebugSession(conn io.ReadWriter) *DebugSession {
	var reader io.Reader = conn
	var writer io.Writer = conn
	if protocolLogPath != "" {
		if tee, err := os.OpenFile(protocolLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			reader = io.TeeReader(reader, tee)
			writer = io.MultiWriter(writer, tee)
		} else {
			logrus.Warnf("open protocol log fail, err = %v", err)
		}
	}
	return &DebugSession{
		id:          utils.GetUUID(),
		rw:          bufio.NewReadWriter(bufio.NewReader(reader), bufio.NewWriter(writer)),
		newDebugger: newMasmDebugger,
		terminate:   utils.NewSignal(),
	}
}

// Serve reads DAP messages until the client disconnects, the stream turns
// invalid, or the session is terminated. Before returning it asks the
// debugger to exit; the teardown itself runs on the debugger's worker.
func (d *DebugSession) Serve() {
	gosync.Go(context.Background(), func(ctx context.Context) {
		for {
			request, err := dap.ReadProtocolMessage(d.rw.Reader)
			if err != nil {
				if err != io.EOF {
					// invalid data closes the session
					logrus.Warnf("session %s: read fail, closing, err = %v", d.id, err)
				}
				d.terminate.Fire()
				return
			}
			d.dispatchRequest(request)
		}
	})
	d.terminate.Wait()
	if d.debugger != nil {
		_ = d.debugger.Exit()
	}
}

func (d *DebugSession) dispatchRequest(request dap.Message) {
	switch request := request.(type) {
	case *dap.InitializeRequest:
		d.onInitializeRequest(request)
	case *dap.LaunchRequest:
		d.onLaunchRequest(request)
	case *dap.ConfigurationDoneRequest:
		d.onConfigurationDoneRequest(request)
	case *dap.SetBreakpointsRequest:
		d.onSetBreakpointsRequest(request)
	case *dap.ThreadsRequest:
		d.onThreadsRequest(request)
	case *dap.StackTraceRequest:
		d.onStackTraceRequest(request)
	case *dap.ScopesRequest:
		d.onScopesRequest(request)
	case *dap.VariablesRequest:
		d.onVariablesRequest(request)
	case *dap.EvaluateRequest:
		d.onEvaluateRequest(request)
	case *dap.ExceptionInfoRequest:
		d.onExceptionInfoRequest(request)
	case *dap.ContinueRequest:
		d.onContinueRequest(request)
	case *dap.PauseRequest:
		d.onPauseRequest(request)
	case *dap.NextRequest:
		d.onNextRequest(request)
	case *dap.StepInRequest:
		d.onStepInRequest(request)
	case *dap.StepOutRequest:
		d.onStepOutRequest(request)
	case *dap.DisconnectRequest:
		d.onDisconnectRequest(request)
	default:
		if baseReq, ok := request.(dap.RequestMessage); ok {
			r := baseReq.GetRequest()
			d.send(newErrorResponse(r.Seq, r.Command, fmt.Sprintf("%s is not yet supported", r.Command)))
		}
	}
}

// send 响应给客户端. Serialized because the debugger worker emits events
// concurrently with request handlers.
func (d *DebugSession) send(message dap.Message) {
	d.sendMutex.Lock()
	defer d.sendMutex.Unlock()
	if err := dap.WriteProtocolMessage(d.rw.Writer, message); err != nil {
		logrus.Warnf("write message fail, err = %v", err)
		return
	}
	if err := d.rw.Flush(); err != nil {
		logrus.Warnf("flush message fail, err = %v", err)
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func newErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(requestSeq, command)
	er.Success = false
	er.Body.Error = &dap.ErrorMessage{}
	er.Body.Error.Format = message
	er.Body.Error.Id = 12345
	return er
}
