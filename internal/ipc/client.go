package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"path/filepath"
	"time"

	"daqserver/internal/device"
	"daqserver/internal/faults"
	"daqserver/internal/fileutil"
	"daqserver/internal/logging"
	"daqserver/internal/transfer"
)

// DefaultChunkSize is the read size GetData uses when none is given.
const DefaultChunkSize = 1 << 20

// CheckChunkSize rejects read sizes the server would refuse. Zero selects
// DefaultChunkSize.
func CheckChunkSize(size int) error {
	if size < 0 || size > transfer.MaxReadSize {
		return faults.Validation("client", "get_data", fmt.Sprintf("chunk size %d out of range (1..%d)", size, transfer.MaxReadSize))
	}
	return nil
}

// Client provides RPC access to the server.
type Client struct {
	conn   net.Conn
	client *rpc.Client
	logger *slog.Logger
}

// Dial connects to the server at addr (host:port).
func Dial(addr string, logger *slog.Logger) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient, logger: logging.NewComponentLogger(logger, "client")}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// call invokes method and maps server faults back onto the faults sentinels.
func (c *Client) call(method string, args any, reply any) error {
	err := c.client.Call(ServiceName+"."+method, args, reply)
	if err == nil {
		return nil
	}
	var serverErr rpc.ServerError
	if errors.As(err, &serverErr) {
		return faults.FromRemote(string(serverErr))
	}
	return fmt.Errorf("call %s: %w", method, err)
}

// Configure creates a new session on the server and returns its name.
func (c *Client) Configure(cfg device.Config) (string, error) {
	var resp ConfigureResponse
	if err := c.call("Configure", ConfigureRequest{Config: cfg}, &resp); err != nil {
		return "", err
	}
	return resp.Session, nil
}

// Start begins acquisition.
func (c *Client) Start() error {
	return c.call("Start", Empty{}, &StartResponse{})
}

// Stop ends acquisition.
func (c *Client) Stop() error {
	return c.call("Stop", Empty{}, &StopResponse{})
}

// ListDevices returns the acquisition devices found by the server.
func (c *Client) ListDevices() ([]string, error) {
	var resp ListDevicesResponse
	if err := c.call("ListDevices", Empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// ListPorts returns the configured labels.
func (c *Client) ListPorts() ([]string, error) {
	var resp ListPortsResponse
	if err := c.call("ListPorts", Empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Labels, nil
}

// ListPortFiles returns the labels whose port file exists.
func (c *Client) ListPortFiles() ([]string, error) {
	var resp ListPortFilesResponse
	if err := c.call("ListPortFiles", Empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Labels, nil
}

// OpenPortFile opens the port file for label.
func (c *Client) OpenPortFile(label string) (OpenPortFileResponse, error) {
	var resp OpenPortFileResponse
	err := c.call("OpenPortFile", OpenPortFileRequest{Label: label}, &resp)
	return resp, err
}

// ReadPortFile reads up to size bytes. An empty result means end of file.
func (c *Client) ReadPortFile(descriptor string, size int) ([]byte, error) {
	var resp ReadPortFileResponse
	if err := c.call("ReadPortFile", ReadPortFileRequest{Descriptor: descriptor, Size: size}, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ClosePortFile releases descriptor.
func (c *Client) ClosePortFile(descriptor string) error {
	return c.call("ClosePortFile", ClosePortFileRequest{Descriptor: descriptor}, &ClosePortFileResponse{})
}

// CloseSession ends the session and deletes its data on the server.
func (c *Client) CloseSession() error {
	return c.call("Close", Empty{}, &CloseResponse{})
}

// Status reports the server's session state.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sessions returns up to limit history records, newest first.
func (c *Client) Sessions(limit int) ([]SessionRecord, error) {
	var resp SessionsResponse
	if err := c.call("Sessions", SessionsRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// GetData copies every port file of the session into outputDir and returns
// the written paths. Files appear only once fully received.
func (c *Client) GetData(ctx context.Context, outputDir string, chunkSize int) ([]string, error) {
	if err := CheckChunkSize(chunkSize); err != nil {
		return nil, err
	}
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	labels, err := c.ListPortFiles()
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		logging.WarnWithContext(c.logger, "session has no port files", "get_data_empty",
			logging.String(logging.FieldImpact, "nothing was downloaded"),
			logging.String(logging.FieldErrorHint, "run start and stop before get-data"))
		return nil, nil
	}
	paths := make([]string, 0, len(labels))
	for _, label := range labels {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		path, err := c.fetch(ctx, label, outputDir, chunkSize)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (c *Client) fetch(ctx context.Context, label, outputDir string, chunkSize int) (path string, err error) {
	handle, err := c.OpenPortFile(label)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := c.ClosePortFile(handle.Descriptor); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	path = filepath.Join(outputDir, filepath.Base(handle.Name))
	out, err := fileutil.CreatePending(path)
	if err != nil {
		return "", err
	}
	defer out.Abort()

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		chunk, err := c.ReadPortFile(handle.Descriptor, chunkSize)
		if err != nil {
			return "", err
		}
		if len(chunk) == 0 {
			break
		}
		if _, err := out.Write(chunk); err != nil {
			return "", fmt.Errorf("write %s: %w", path, err)
		}
		written += int64(len(chunk))
	}
	if err := out.Commit(); err != nil {
		return "", err
	}
	c.logger.Debug("port file downloaded",
		logging.String(logging.FieldLabel, label),
		logging.String("path", path),
		slog.Int64("bytes", written))
	return path, nil
}
