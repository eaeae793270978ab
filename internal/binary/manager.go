package binary

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cfschilham/kryer/internal/platform"
	"github.com/cfschilham/kryer/internal/transaction"
)

// scratchPrefix names per-run scratch directories under Options.ScratchDir.
const scratchPrefix = "kryer-install-"

// Manager orchestrates release resolution, download, verification and
// installation
type Manager struct {
	client    *Client
	platform  *platform.Info
	confirmer Confirmer
	reporter  Reporter
	log       Logger
}

// Config holds the collaborators of a Manager
type Config struct {
	// Client performs HTTP fetches (default: NewClient())
	Client *Client
	// Platform selects release assets (required)
	Platform *platform.Info
	// Confirmer is asked before replacing an existing install. Without one,
	// interactive runs never replace an existing binary.
	Confirmer Confirmer
	// Reporter receives progress (default: discard)
	Reporter Reporter
	// Logger receives diagnostics (default: discard)
	Logger Logger
}

// NewManager creates a new install manager
func NewManager(config Config) (*Manager, error) {
	if config.Platform == nil {
		return nil, fmt.Errorf("Platform is required")
	}

	m := &Manager{
		client:    config.Client,
		platform:  config.Platform,
		confirmer: config.Confirmer,
		reporter:  config.Reporter,
		log:       config.Logger,
	}
	if m.client == nil {
		m.client = NewClient()
	}
	if m.confirmer == nil {
		m.confirmer = declineConfirmer{}
	}
	if m.reporter == nil {
		m.reporter = noopReporter{}
	}
	if m.log == nil {
		m.log = noopLogger{}
	}
	return m, nil
}

// Run performs one install. The returned result is never nil and carries the
// terminal state; err is nil for success and for a declined reinstall.
//
// Whatever happens, the per-run scratch directory is gone when Run returns
// and the install path holds either the previous binary or the new one.
func (m *Manager) Run(ctx context.Context, opts Options) (*InstallResult, error) {
	start := time.Now()

	r := &run{
		m:     m,
		opts:  opts,
		log:   m.log,
		paths: InstallTarget{BinaryPath: opts.InstallPath},
		result: &InstallResult{
			RunID:      uuid.NewString(),
			State:      StateIdle,
			BinaryPath: opts.InstallPath,
		},
	}
	if l, ok := m.log.(interface{ With(args ...any) *slog.Logger }); ok {
		r.log = l.With("run", r.result.RunID)
	}

	err := r.execute(ctx)
	err = r.finish(err)
	r.result.Duration = time.Since(start)
	return r.result, err
}

// run holds the state of one Manager.Run call.
type run struct {
	m      *Manager
	opts   Options
	log    Logger
	result *InstallResult

	target  Target
	paths   InstallTarget
	lock    *transaction.Lock
}

func (r *run) execute(ctx context.Context) error {
	if err := r.preflight(); err != nil {
		return err
	}

	// Resolve everything before touching the filesystem so a decline or an
	// unsupported platform has nothing to undo.
	if err := r.step(ctx, StateResolvingRelease, r.opts.Project); err != nil {
		return err
	}
	rel, err := r.m.client.LatestRelease(ctx, r.opts.APIURL, r.opts.Project)
	if err != nil {
		return err
	}
	r.result.Tag = rel.TagName

	assets, err := r.m.client.ListAssets(ctx, rel)
	if err != nil {
		return err
	}
	plan, err := r.plan(assets)
	if err != nil {
		return err
	}
	r.result.Asset = plan.archive.Name

	if err := r.step(ctx, StateCheckingExisting, r.paths.BinaryPath); err != nil {
		return err
	}
	proceed, err := r.confirmReplace(ctx)
	if err != nil || !proceed {
		return err
	}

	if err := checkFreeSpace(ctx, r.opts.ScratchDir, 2*uint64(max(plan.archive.Size, 0)), r.log); err != nil {
		return err
	}

	if err := r.openScratch(ctx); err != nil {
		return err
	}

	files, err := r.download(ctx, plan)
	if err != nil {
		return err
	}

	if err := r.step(ctx, StateVerifying, plan.archive.Name); err != nil {
		return err
	}
	if err := r.verify(files, plan); err != nil {
		return err
	}

	if err := r.step(ctx, StateExtracting, plan.archive.Name); err != nil {
		return err
	}
	exe, aux, err := r.extract(files.archive)
	if err != nil {
		return err
	}

	if err := r.step(ctx, StateInstalling, r.paths.BinaryPath); err != nil {
		return err
	}
	return r.install(exe, aux)
}

// preflight validates options and checks both directories are writable
// before any network access.
func (r *run) preflight() error {
	o := r.opts
	switch {
	case o.InstallPath == "":
		return newError(KindPath, "preflight", fmt.Errorf("install path is required"))
	case o.ScratchDir == "":
		return newError(KindPath, "preflight", fmt.Errorf("scratch directory is required"))
	case o.BinaryName == "":
		return newError(KindPath, "preflight", fmt.Errorf("binary name is required"))
	}

	r.target = TargetFor(r.m.platform, o.Format)

	if err := checkDir(filepath.Dir(o.InstallPath), "install directory"); err != nil {
		return err
	}
	return checkDir(o.ScratchDir, "scratch directory")
}

// installPlan is the set of assets one run downloads.
type installPlan struct {
	archive   Asset
	checksum  Asset
	hasSum    bool
	signature Asset
	sigKind   SignatureKind
}

func (r *run) plan(assets []Asset) (*installPlan, error) {
	archive, err := SelectBinaryAsset(assets, r.target)
	if err != nil {
		return nil, err
	}

	p := &installPlan{archive: archive}
	p.checksum, p.hasSum = SelectChecksumAsset(assets, archive.Name)

	switch {
	case r.opts.Checksum == ChecksumSkip:
		p.hasSum = false
	case r.opts.Checksum == ChecksumRequired && !p.hasSum:
		return nil, &Error{Kind: KindIntegrity, Op: "resolve checksum", URL: archive.DownloadURL, Err: ErrChecksumAbsent}
	}

	wantPGP, wantMinisign := r.opts.PGPKeyring != "", r.opts.MinisignKey != ""
	var hasSig bool
	p.signature, p.sigKind, hasSig = SelectSignatureAsset(assets, archive.Name, wantPGP, wantMinisign)
	if r.opts.RequireSignature && !hasSig {
		return nil, &Error{Kind: KindIntegrity, Op: "resolve signature", URL: archive.DownloadURL, Err: ErrSignatureAbsent}
	}

	r.log.Info("resolved release asset",
		"asset", archive.Name, "url", archive.DownloadURL,
		"checksum", p.hasSum, "signature", hasSig)
	return p, nil
}

// confirmReplace asks before replacing an existing install. It returns false
// with a nil error when the user declines.
func (r *run) confirmReplace(ctx context.Context) (bool, error) {
	_, err := os.Lstat(r.paths.BinaryPath)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, &Error{Kind: KindPermission, Op: "stat existing install", Path: r.paths.BinaryPath, Err: err}
	}

	if !r.opts.NonInteractive {
		if err := r.step(ctx, StateAwaitingConfirmation, r.paths.BinaryPath); err != nil {
			return false, err
		}

		question := fmt.Sprintf("%s is already installed at %s. Reinstall %s", r.opts.BinaryName, r.paths.BinaryPath, r.result.Tag)
		ok, err := r.m.confirmer.Confirm(ctx, question)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrCancelled) {
				return false, cancelled("confirm", err)
			}
			return false, newError(KindUnknown, "confirm", err)
		}
		if !ok {
			r.log.Info("reinstall declined", "path", r.paths.BinaryPath)
			r.result.Declined = true
			return false, nil
		}
	}

	return true, checkRemovable(r.paths.BinaryPath)
}

// openScratch takes the run lock and creates the per-run scratch directory.
func (r *run) openScratch(ctx context.Context) error {
	lock, err := transaction.AcquireLock(ctx, r.opts.ScratchDir, r.result.RunID)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled("acquire lock", ctx.Err())
		}
		return &Error{Kind: KindPath, Op: "acquire lock", Path: r.opts.ScratchDir, Err: err}
	}
	r.lock = lock

	dir := filepath.Join(r.opts.ScratchDir, scratchPrefix+r.result.RunID)
	if err := os.Mkdir(dir, 0700); err != nil {
		return &Error{Kind: KindPermission, Op: "create scratch dir", Path: dir, Err: err}
	}
	r.paths.ScratchDir = dir
	r.log.Debug("scratch directory created", "path", dir)
	return nil
}

// downloaded holds local paths of fetched assets. Empty means not fetched.
type downloaded struct {
	archive   string
	checksum  string
	signature string
}

func (r *run) download(ctx context.Context, p *installPlan) (*downloaded, error) {
	detail := p.archive.Name
	if p.archive.Size > 0 {
		detail = fmt.Sprintf("%s (%s)", p.archive.Name, humanSize(p.archive.Size))
	}
	if err := r.step(ctx, StateDownloading, detail); err != nil {
		return nil, err
	}

	files := &downloaded{}
	fetch := func(a Asset) (string, error) {
		dest := filepath.Join(r.paths.ScratchDir, filepath.Base(a.Name))
		n, err := r.m.client.FetchToFile(ctx, a.DownloadURL, dest)
		if err != nil {
			return "", err
		}
		r.log.Debug("asset downloaded", "asset", a.Name, "bytes", n, "path", dest)
		return dest, nil
	}

	var err error
	if files.archive, err = fetch(p.archive); err != nil {
		return nil, err
	}
	if p.hasSum {
		if files.checksum, err = fetch(p.checksum); err != nil {
			return nil, err
		}
	}
	if p.sigKind != SignatureNone {
		if files.signature, err = fetch(p.signature); err != nil {
			return nil, err
		}
	}
	return files, nil
}

func (r *run) verify(files *downloaded, p *installPlan) error {
	switch {
	case r.opts.Checksum == ChecksumSkip:
		r.m.reporter.Warn("checksum verification skipped")
		r.log.Warn("checksum verification skipped", "asset", p.archive.Name)
		r.result.Verification = append(r.result.Verification, VerificationResult{Method: VerificationNone})

	case files.checksum == "":
		r.m.reporter.Warn(fmt.Sprintf("release publishes no checksum for %s, installing unverified", p.archive.Name))
		r.log.Warn("no checksum asset", "asset", p.archive.Name)
		r.result.Verification = append(r.result.Verification, VerificationResult{Method: VerificationNone})

	default:
		record, err := ReadChecksumFile(files.checksum)
		if err != nil {
			return &Error{Kind: KindParse, Op: "parse checksum", URL: p.checksum.DownloadURL, Err: err}
		}

		ok, computed, err := VerifyChecksum(record.ExpectedHex, files.archive)
		if err != nil {
			return &Error{Kind: KindPath, Op: "compute checksum", Path: files.archive, Err: err}
		}
		if !ok {
			mismatch := &MismatchError{Asset: p.archive.Name, Expected: record.ExpectedHex, Computed: computed}
			r.result.Verification = append(r.result.Verification, VerificationResult{Method: VerificationSHA256, Error: mismatch})
			return &Error{Kind: KindIntegrity, Op: "verify checksum", URL: p.archive.DownloadURL, Path: files.archive, Err: mismatch}
		}
		r.log.Info("checksum verified", "asset", p.archive.Name, "sha256", computed)
		r.result.Verification = append(r.result.Verification, VerificationResult{Method: VerificationSHA256, Success: true})
	}

	if files.signature == "" {
		return nil
	}

	var (
		method VerificationMethod
		err    error
	)
	switch p.sigKind {
	case SignaturePGP:
		method = VerificationPGP
		keyring, kerr := LoadKeyring(r.opts.PGPKeyring)
		if kerr != nil {
			err = kerr
			break
		}
		err = VerifyPGP(keyring, files.archive, files.signature)
	case SignatureMinisign:
		method = VerificationMinisign
		err = VerifyMinisign(r.opts.MinisignKey, files.archive, files.signature)
	}

	r.result.Verification = append(r.result.Verification, VerificationResult{Method: method, Success: err == nil, Error: err})
	if err != nil {
		return &Error{Kind: KindIntegrity, Op: "verify " + method.String() + " signature", URL: p.signature.DownloadURL, Err: err}
	}
	r.log.Info("signature verified", "asset", p.archive.Name, "method", method.String())
	return nil
}

// extract unpacks the archive and locates the executable and any shipped
// configuration files.
func (r *run) extract(archivePath string) (string, *auxPlacement, error) {
	root, err := Extract(archivePath, filepath.Join(r.paths.ScratchDir, "extract"), r.target.Format)
	if err != nil {
		return "", nil, err
	}

	exe, err := FindExecutable(root, r.opts.BinaryName)
	if err != nil && r.m.platform.IsWindows() && !strings.HasSuffix(strings.ToLower(r.opts.BinaryName), ".exe") {
		exe, err = FindExecutable(root, r.opts.BinaryName+".exe")
	}
	if err != nil {
		return "", nil, &Error{Kind: KindArchive, Op: "locate binary", Path: archivePath, Err: err}
	}

	if r.opts.ConfigDir == "" {
		return exe, nil, nil
	}
	aux := newAuxPlacement(root, r.opts.ConfigDir, r.log)
	if !aux.present() {
		return exe, nil, nil
	}
	if err := aux.validate(); err != nil {
		if KindOf(err) == KindUnknown {
			err = &Error{Kind: KindArchive, Op: "read config files", Path: aux.src, Err: err}
		}
		return "", nil, err
	}
	return exe, aux, nil
}

// install stages the binary, places config files and commits. Nothing here
// observes cancellation: once staging starts the run completes or rolls back.
func (r *run) install(exe string, aux *auxPlacement) error {
	rep := newReplacement(r.paths.BinaryPath, r.result.RunID, r.log)
	if err := rep.stage(exe); err != nil {
		return err
	}

	if aux != nil {
		if err := aux.place(r.m.reporter.Warn); err != nil {
			aux.rollback()
			rep.discard()
			if KindOf(err) == KindUnknown {
				err = &Error{Kind: KindPermission, Op: "install config files", Path: r.opts.ConfigDir, Err: err}
			}
			return err
		}
		r.result.ConfigInstalled = aux.installed
		r.result.ConfigSkipped = aux.skipped
	}

	replaced, err := rep.commit()
	if err != nil {
		if aux != nil {
			aux.rollback()
			r.result.ConfigInstalled = nil
		}
		rep.discard()
		return err
	}

	r.result.Replaced = replaced
	r.log.Info("binary installed", "path", r.paths.BinaryPath, "replaced", replaced, "tag", r.result.Tag)
	return nil
}

// finish removes the scratch area, releases the lock and records the
// terminal state. A cleanup failure only fails an otherwise successful run
// when scratch files are left behind.
func (r *run) finish(err error) error {
	if r.paths.ScratchDir != "" || r.lock != nil {
		r.transition(StateCleaningUp, "")

		if r.paths.ScratchDir != "" {
			if rerr := os.RemoveAll(r.paths.ScratchDir); rerr != nil {
				r.log.Error("remove scratch dir failed", "path", r.paths.ScratchDir, "error", rerr)
				if err == nil {
					err = &Error{Kind: KindPath, Op: "remove scratch dir", Path: r.paths.ScratchDir, Err: rerr}
				}
			}
		}
		if r.lock != nil {
			if rerr := r.lock.Release(); rerr != nil {
				r.log.Warn("release lock failed", "error", rerr)
			}
		}
	}

	switch {
	case err == nil:
		r.transition(StateDone, "")
	case IsCancelled(err):
		r.transition(StateCancelled, "")
	default:
		r.log.Error("install failed", "state", r.result.State.String(), "error", err)
		r.transition(StateFailed, err.Error())
	}
	return err
}

// step moves to state unless ctx is already cancelled.
func (r *run) step(ctx context.Context, state State, detail string) error {
	if err := ctx.Err(); err != nil {
		return cancelled(state.String(), err)
	}
	r.transition(state, detail)
	return nil
}

func (r *run) transition(state State, detail string) {
	r.log.Debug("state transition", "from", r.result.State.String(), "to", state.String(), "detail", detail)
	r.result.State = state
	r.m.reporter.Step(state, detail)
}

// declineConfirmer answers no to every question.
type declineConfirmer struct{}

func (declineConfirmer) Confirm(context.Context, string) (bool, error) { return false, nil }

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
