// Package binary implements the verified fetch-and-install pipeline behind
// kryer-install.
//
// # Security Model
//
// A release archive only reaches the install path after it has been:
//   - Downloaded from the release host into a per-run scratch directory
//   - Verified against the published .sha256 checksum (and, when keys are
//     configured, a detached PGP or minisign signature)
//   - Extracted into a single top-level directory without path traversal
//
// The previous binary is renamed aside rather than deleted, so a failed
// commit restores it.
//
// # Pipeline
//
// Manager.Run walks a fixed sequence of states:
//
//	Idle -> ResolvingRelease -> CheckingExisting -> AwaitingConfirmation ->
//	Downloading -> Verifying -> Extracting -> Installing -> CleaningUp -> Done
//
// Any state may end in Failed or Cancelled. The scratch directory is removed
// on every path.
//
// # Usage
//
//	mgr, err := binary.NewManager(binary.Config{
//	    Client:    binary.NewClient(),
//	    Platform:  info,
//	    Confirmer: ui.NewPromptConfirmer(os.Stdin, os.Stdout),
//	})
//	if err != nil {
//	    return err
//	}
//
//	result, err := mgr.Run(ctx, binary.Options{
//	    Project:     "cfschilham/kryer",
//	    BinaryName:  "kryer",
//	    InstallPath: "/usr/local/bin/kryer",
//	    ScratchDir:  os.TempDir(),
//	})
//
// # Architecture
//
//   - Manager: orchestration, pre-flight checks and replacement
//   - Client: HTTP fetches of release metadata and assets
//   - SelectBinaryAsset / SelectChecksumAsset: asset resolution
//   - VerifyChecksum, VerifyPGP, VerifyMinisign: integrity and authenticity
//   - Extract: tar.gz and zip unpacking
package binary
