package exec

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/apsjohn/pianovision-fingerings/internal/engine"
	apperrors "github.com/apsjohn/pianovision-fingerings/internal/errors"
	"github.com/apsjohn/pianovision-fingerings/internal/fingering"
	"github.com/apsjohn/pianovision-fingerings/internal/workspace"
)

//go:embed helper.py
var helperScript []byte

// HelperVersion identifies the embedded helper script. Cached results are
// only valid for the helper that produced them.
func HelperVersion() string {
	sum := sha256.Sum256(helperScript)
	return hex.EncodeToString(sum[:])[:12]
}

// Provisioner starts the Python engine. It implements engine.Provisioner.
type Provisioner struct {
	Runner       *Runner
	StartTimeout time.Duration // how long to wait for the interpreter's hello
	// PipCacheDir keeps package downloads across engine sessions. Empty
	// leaves pip on its own user cache.
	PipCacheDir string
	Logger      *slog.Logger
}

// NewProvisioner creates a provisioner for the given runner
func NewProvisioner(runner *Runner, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		Runner:       runner,
		StartTimeout: 30 * time.Second,
		Logger:       logger,
	}
}

type request struct {
	Op       string   `json:"op"`
	Role     string   `json:"role,omitempty"`
	Name     string   `json:"name,omitempty"`
	Source   string   `json:"source,omitempty"`
	Module   string   `json:"module,omitempty"`
	Install  bool     `json:"install,omitempty"`
	NoDeps   bool     `json:"no_deps,omitempty"`
	IndexURL string   `json:"index_url,omitempty"`
	CacheDir string   `json:"cache_dir,omitempty"`
	Stubs    []string `json:"stubs,omitempty"`
	MIDI     string   `json:"midi,omitempty"`
	HandSize string   `json:"hand_size,omitempty"`
}

type reply struct {
	OK     bool             `json:"ok"`
	Op     string           `json:"op"`
	Kind   string           `json:"kind"`
	Error  string           `json:"error"`
	Python string           `json:"python"`
	Left   []fingering.Note `json:"left"`
	Right  []fingering.Note `json:"right"`
	MIDI   string           `json:"midi"`
}

func (r *reply) err(op string) error {
	if r.OK {
		return nil
	}
	kind := apperrors.Kind(r.Kind)
	switch kind {
	case apperrors.KindBootstrap, apperrors.KindParse, apperrors.KindComputation, apperrors.KindMalformedEncoding:
	default:
		kind = apperrors.KindInternal
	}
	return apperrors.NewEngineError(kind, op, r.Error, nil)
}

// Provision implements engine.Provisioner: it materialises the helper in a
// fresh workspace, starts the interpreter and waits for its hello.
func (p *Provisioner) Provision(ctx context.Context) (engine.Runtime, error) {
	ws, err := workspace.Create()
	if err != nil {
		return nil, err
	}
	script, err := ws.WriteHelper(helperScript)
	if err != nil {
		ws.Cleanup()
		return nil, err
	}

	session, err := p.Runner.StartScript(ctx, script, p.Logger)
	if err != nil {
		ws.Cleanup()
		return nil, err
	}

	helloCtx, cancel := context.WithTimeout(ctx, p.StartTimeout)
	defer cancel()

	// hello is the first line the helper writes; no request precedes it
	var hello reply
	if err := session.readReply(helloCtx, "start", &hello); err != nil {
		session.Close()
		ws.Cleanup()
		return nil, err
	}
	if !hello.OK || hello.Op != "hello" {
		session.Close()
		ws.Cleanup()
		return nil, fmt.Errorf("unexpected greeting %q from interpreter", hello.Op)
	}

	p.Logger.Info("engine interpreter started",
		"python", hello.Python,
		"helper", HelperVersion(),
		"elapsed", time.Since(session.Started))

	return &runtime{session: session, ws: ws, pipCache: p.PipCacheDir}, nil
}

// runtime is the engine.Runtime backed by a helper session
type runtime struct {
	session  *Session
	ws       *workspace.Workspace
	pipCache string
}

func (r *runtime) Load(ctx context.Context, lib engine.Library, env engine.Environment) error {
	req := request{
		Op:       "load",
		Role:     string(lib.Role),
		Name:     lib.Name,
		Source:   lib.Source,
		Module:   lib.Module,
		Install:  lib.Install,
		NoDeps:   lib.NoDeps,
		IndexURL: lib.IndexURL,
		CacheDir: r.pipCache,
		Stubs:    env.Stubs,
	}
	var resp reply
	if err := r.session.Call(ctx, "load", req, &resp); err != nil {
		return err
	}
	return resp.err("load " + lib.Name)
}

func (r *runtime) ComputeAll(ctx context.Context, encoded string, hand fingering.HandSize) ([]fingering.Note, []fingering.Note, error) {
	req := request{Op: "compute_all", MIDI: encoded, HandSize: string(hand)}
	var resp reply
	if err := r.session.Call(ctx, "compute_all", req, &resp); err != nil {
		return nil, nil, err
	}
	if err := resp.err("compute_all"); err != nil {
		return nil, nil, err
	}
	return resp.Left, resp.Right, nil
}

func (r *runtime) Annotate(ctx context.Context, encoded string, hand fingering.HandSize) (string, error) {
	req := request{Op: "annotate", MIDI: encoded, HandSize: string(hand)}
	var resp reply
	if err := r.session.Call(ctx, "annotate", req, &resp); err != nil {
		return "", err
	}
	if err := resp.err("annotate"); err != nil {
		return "", err
	}
	return resp.MIDI, nil
}

func (r *runtime) Close() error {
	err := r.session.Close()
	if cerr := r.ws.Cleanup(); err == nil {
		err = cerr
	}
	return err
}
