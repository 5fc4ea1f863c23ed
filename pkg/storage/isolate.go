package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/moby/sys/reexec"

	"github.com/sdejongh/remotefs/pkg/content"
	"github.com/sdejongh/remotefs/pkg/logging"
	"github.com/sdejongh/remotefs/pkg/models"
)

// WorkerName is the re-exec entry point of the isolation worker. A binary
// using the local backend with AsUser must call reexec.Init() first thing
// in main.
const WorkerName = "remotefs-storage-worker"

// workerExecutable overrides the binary started for workers; empty means
// the running executable.
var workerExecutable string

func init() {
	reexec.Register(WorkerName, func() {
		os.Exit(ServeWorker(context.Background(), os.Stdin, os.Stdout))
	})
}

type workerOp string

const (
	opGetPath           workerOp = "getPath"
	opListDirectory     workerOp = "listDirectory"
	opMakeDirectory     workerOp = "makeDirectory"
	opWriteFile         workerOp = "writeFile"
	opReadFile          workerOp = "readFile"
	opDeletePath        workerOp = "deletePath"
	opSetPathPermission workerOp = "setPathPermission"
	opSetPathOwner      workerOp = "setPathOwner"
)

// workerRequest is the header line sent to a worker. For writeFile the file
// contents follow it on the same stream.
type workerRequest struct {
	ID         string            `json:"id"`
	Op         workerOp          `json:"op"`
	Path       string            `json:"path"`
	Cwd        string            `json:"cwd"`
	ChunkSize  int               `json:"chunk_size"`
	Permission models.Permission `json:"permission"`
	Owner      string            `json:"owner,omitempty"`
	Group      string            `json:"group,omitempty"`
	Overwrite  bool              `json:"overwrite,omitempty"`
	Text       bool              `json:"text,omitempty"`
	Encoding   string            `json:"encoding,omitempty"`
}

// workerResponse carries the single return value of the call, or its error
type workerResponse struct {
	ID      string                `json:"id"`
	Object  *models.RemoteObject  `json:"object,omitempty"`
	Objects []models.RemoteObject `json:"objects,omitempty"`
	Deleted bool                  `json:"deleted,omitempty"`
	Data    []byte                `json:"data,omitempty"`
	Error   *workerError          `json:"error,omitempty"`
}

type workerError struct {
	platformerrors.ErrorResponse
	Trace string `json:"trace,omitempty"`
}

func (r workerResponse) object() models.RemoteObject {
	if r.Object == nil {
		return models.RemoteObject{}
	}
	return *r.Object
}

func (r workerRequest) options() Options {
	return Options{
		Permission: r.Permission,
		Owner:      r.Owner,
		Group:      r.Group,
		Overwrite:  r.Overwrite,
		Text:       r.Text,
		Encoding:   r.Encoding,
	}
}

// isolated runs one primitive in a fresh worker process started as id and
// blocks until the worker exits.
func (l *Local) isolated(ctx context.Context, id *identity, req workerRequest, o Options, body io.Reader) (workerResponse, error) {
	req.ID = uuid.NewString()
	req.Cwd = l.cwd
	req.ChunkSize = l.config.ChunkSize
	req.Permission, req.Owner, req.Group = o.Permission, o.Owner, o.Group
	req.Overwrite, req.Text, req.Encoding = o.Overwrite, o.Text, o.Encoding

	header, err := json.Marshal(req)
	if err != nil {
		return workerResponse{}, models.BadRequest(string(req.Op), req.Path, err, "failed to encode worker request: %v", err)
	}
	stdin := io.Reader(bytes.NewReader(append(header, '\n')))
	if body != nil {
		stdin = io.MultiReader(stdin, body)
	}

	cmd := reexec.Command(WorkerName)
	if workerExecutable != "" {
		cmd.Path = workerExecutable
	}
	runAs(cmd, id)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := l.logger.WithFields(logging.Fields{"request": req.ID, "op": string(req.Op), "path": req.Path, "user": id.Name})
	log.Debug(ctx, "starting isolated worker", logging.Fields{"uid": id.Uid, "gid": id.Gid})
	runErr := cmd.Run()

	resp, err := decodeResponse(&stdout)
	if err != nil {
		cause := runErr
		if cause == nil {
			cause = err
		}
		log.Error(ctx, "isolated worker failed", cause, logging.Fields{"stderr": strings.TrimSpace(stderr.String())})
		return workerResponse{}, models.BadRequest(string(req.Op), req.Path, cause, "%s: worker for user %q failed: %v", req.Op, id.Name, cause)
	}
	if resp.ID != req.ID {
		return workerResponse{}, models.BadRequest(string(req.Op), req.Path, nil, "%s: worker answered request %q, expected %q", req.Op, resp.ID, req.ID)
	}
	if resp.Error != nil {
		if resp.Error.Trace != "" {
			log.Debug(ctx, "isolated worker trace", logging.Fields{"trace": resp.Error.Trace})
		}
		return workerResponse{}, rebuildWorkerError(resp.Error)
	}
	log.Debug(ctx, "isolated worker finished", nil)
	return resp, nil
}

func decodeResponse(r io.Reader) (workerResponse, error) {
	var resp workerResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return workerResponse{}, fmt.Errorf("failed to decode worker response: %w", err)
	}
	return resp, nil
}

func rebuildWorkerError(e *workerError) error {
	err := models.Rebuild(e.Code, e.Message, e.Context)
	if !models.IsCoded(err) {
		return models.BadRequest("", "", err, "%s", e.Message)
	}
	return err
}

// ServeWorker handles exactly one request read from in and writes the
// response to out. It returns the process exit code.
func ServeWorker(ctx context.Context, in io.Reader, out io.Writer) int {
	br := bufio.NewReader(in)
	var resp workerResponse

	line, err := br.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		resp.Error = newWorkerError(models.BadRequest("", "", err, "failed to read worker request: %v", err), "")
	} else {
		var req workerRequest
		if err := json.Unmarshal(line, &req); err != nil {
			resp.Error = newWorkerError(models.BadRequest("", "", err, "failed to decode worker request: %v", err), "")
		} else {
			resp = handleRequest(ctx, req, br)
		}
	}

	if err := json.NewEncoder(out).Encode(resp); err != nil {
		return 2
	}
	if resp.Error != nil {
		return 1
	}
	return 0
}

func newWorkerError(err error, trace string) *workerError {
	resp := platformerrors.ToJSON(err)
	if trace == "" {
		trace = err.Error()
	}
	return &workerError{ErrorResponse: *resp, Trace: trace}
}

func handleRequest(ctx context.Context, req workerRequest, body io.Reader) (resp workerResponse) {
	resp.ID = req.ID
	defer func() {
		if r := recover(); r != nil {
			err := models.BadRequest(string(req.Op), req.Path, nil, "%s: worker panic: %v", req.Op, r)
			resp = workerResponse{ID: req.ID, Error: newWorkerError(err, string(debug.Stack()))}
		}
	}()

	l := NewLocal(LocalConfig{Cwd: req.Cwd, ChunkSize: req.ChunkSize})
	l.cwd = req.Cwd
	l.configured = true
	o := req.options()

	var obj models.RemoteObject
	var err error
	switch req.Op {
	case opGetPath:
		obj, err = l.getPath(req.Path)
	case opListDirectory:
		resp.Objects, err = l.listDirectory(req.Path)
	case opMakeDirectory:
		obj, err = l.makeDirectory(ctx, req.Path, o)
	case opWriteFile:
		obj, err = l.writeFile(ctx, req.Path, body, o)
	case opReadFile:
		var it *content.Iterator
		if it, err = l.readFile(req.Path, o); err == nil {
			resp.Data, err = it.ReadAll()
			it.Close()
		}
	case opDeletePath:
		resp.Deleted, err = l.deletePath(req.Path)
	case opSetPathPermission:
		obj, err = l.setPathPermission(req.Path, req.Permission)
	case opSetPathOwner:
		obj, err = l.setPathOwner(req.Path, req.Owner, req.Group)
	default:
		err = models.BadRequest(string(req.Op), req.Path, nil, "unknown worker operation %q", req.Op)
	}

	if err != nil {
		resp.Error = newWorkerError(err, "")
		return resp
	}
	if obj.Path != "" {
		resp.Object = &obj
	}
	return resp
}
