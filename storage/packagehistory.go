package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/JiseokYu/code-push-server/errors"
	"github.com/JiseokYu/code-push-server/types"
)

// MaxPackageHistoryLength bounds the release history kept per
// deployment. Older entries fall off the front.
const MaxPackageHistoryLength = 50

// PackageHistoryStore manages the append-mostly release history blob of
// each deployment. Labels are monotonic v1..vN, at most the newest
// entry carries a staged rollout, and the deployment document's Package
// field always mirrors the history tail.
type PackageHistoryStore struct {
	s *Storage
}

// CommitPackage appends a release to the deployment's history. It
// assigns the next label, clears any staged rollout on the previous
// tail, trims to the newest MaxPackageHistoryLength entries, and then
// updates the deployment document to point at the new release. A crash
// between blob and document writes leaves the document one release
// behind; the next commit repairs it.
func (h *PackageHistoryStore) CommitPackage(ctx context.Context, accountID, appID, deploymentID string, pkg types.Package) (types.Package, error) {
	deployment, err := h.s.deployments.GetDeployment(ctx, accountID, appID, deploymentID)
	if err != nil {
		return types.Package{}, err
	}
	if err := pkg.ValidateRollout(); err != nil {
		return types.Package{}, err
	}

	// The releasing identity is stamped server-side; a commit never goes
	// through with a missing or caller-supplied releasedBy.
	account, err := h.s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return types.Package{}, err
	}

	history, err := h.download(ctx, deploymentID)
	if err != nil {
		if !errors.IsNotFound(err) {
			return types.Package{}, err
		}
		history = nil
	}

	pkg.Label = nextLabel(history)
	pkg.UploadTime = h.s.now()
	pkg.ReleasedBy = account.Email

	if len(history) > 0 {
		history[len(history)-1].Rollout = nil
	}
	history = append(history, pkg)
	if len(history) > MaxPackageHistoryLength {
		history = history[len(history)-MaxPackageHistoryLength:]
	}

	if err := h.upload(ctx, deploymentID, history); err != nil {
		return types.Package{}, errors.Wrap(errors.Other, err, "PackageHistoryStore", "CommitPackage", "upload history")
	}

	deployment.Package = &pkg
	if err := h.s.deployments.persistDeployment(ctx, appID, &deployment); err != nil {
		return types.Package{}, errors.Wrap(errors.Other, err, "PackageHistoryStore", "CommitPackage", "persist deployment")
	}

	h.s.logger.Debug("package committed", "deploymentId", deploymentID, "label", pkg.Label)
	return pkg, nil
}

// GetPackageHistory returns the release history, oldest first. A
// deployment with no history blob reads as empty.
func (h *PackageHistoryStore) GetPackageHistory(ctx context.Context, accountID, appID, deploymentID string) ([]types.Package, error) {
	if _, err := h.s.deployments.GetDeployment(ctx, accountID, appID, deploymentID); err != nil {
		return nil, err
	}

	history, err := h.download(ctx, deploymentID)
	if err != nil {
		if errors.IsNotFound(err) {
			return []types.Package{}, nil
		}
		return nil, err
	}
	return history, nil
}

// GetPackageHistoryFromDeploymentKey resolves a deployment key and
// returns its history without collaborator authorization; the key
// itself is the credential on the client update path.
func (h *PackageHistoryStore) GetPackageHistoryFromDeploymentKey(ctx context.Context, deploymentKey string) ([]types.Package, error) {
	info, err := h.s.deployments.GetDeploymentInfo(ctx, deploymentKey)
	if err != nil {
		return nil, err
	}

	history, err := h.download(ctx, info.DeploymentID)
	if err != nil {
		if errors.IsNotFound(err) {
			return []types.Package{}, nil
		}
		return nil, err
	}
	return history, nil
}

// ClearPackageHistory resets a deployment to its never-released state:
// empty history blob, nil Package on the document.
func (h *PackageHistoryStore) ClearPackageHistory(ctx context.Context, accountID, appID, deploymentID string) error {
	deployment, err := h.s.deployments.GetDeployment(ctx, accountID, appID, deploymentID)
	if err != nil {
		return err
	}

	deployment.Package = nil
	if err := h.s.deployments.persistDeployment(ctx, appID, &deployment); err != nil {
		return errors.Wrap(errors.Other, err, "PackageHistoryStore", "ClearPackageHistory", "persist deployment")
	}
	if err := h.upload(ctx, deploymentID, []types.Package{}); err != nil {
		return errors.Wrap(errors.Other, err, "PackageHistoryStore", "ClearPackageHistory", "reset history blob")
	}
	return nil
}

// UpdatePackageHistory replaces the full history wholesale, trusting the
// caller's ordering and labels. The management surface uses this for
// release edits (description, disabled, rollout changes); the tail
// becomes the deployment's current package.
func (h *PackageHistoryStore) UpdatePackageHistory(ctx context.Context, accountID, appID, deploymentID string, history []types.Package) error {
	if len(history) == 0 {
		return errors.New(errors.Invalid, "PackageHistoryStore", "UpdatePackageHistory", "history cannot be empty")
	}

	deployment, err := h.s.deployments.GetDeployment(ctx, accountID, appID, deploymentID)
	if err != nil {
		return err
	}

	tail := history[len(history)-1]
	deployment.Package = &tail
	if err := h.s.deployments.persistDeployment(ctx, appID, &deployment); err != nil {
		return errors.Wrap(errors.Other, err, "PackageHistoryStore", "UpdatePackageHistory", "persist deployment")
	}
	if err := h.upload(ctx, deploymentID, history); err != nil {
		return errors.Wrap(errors.Other, err, "PackageHistoryStore", "UpdatePackageHistory", "upload history")
	}
	return nil
}

func (h *PackageHistoryStore) download(ctx context.Context, deploymentID string) ([]types.Package, error) {
	data, err := h.s.blobs.Get(ctx, historyBlobID(deploymentID))
	if err != nil {
		return nil, errors.Wrap(errors.NotFound, err, "PackageHistoryStore", "download", "fetch history blob")
	}

	var history []types.Package
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, errors.Wrap(errors.Other, err, "PackageHistoryStore", "download", "unmarshal history")
	}
	if history == nil {
		history = []types.Package{}
	}
	return history, nil
}

func (h *PackageHistoryStore) upload(ctx context.Context, deploymentID string, history []types.Package) error {
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return h.s.blobs.Put(ctx, historyBlobID(deploymentID), data)
}

// nextLabel derives the next release label from the current tail.
// Labels are monotonic even across trims: "v7" follows "v6" regardless
// of how many entries remain.
func nextLabel(history []types.Package) string {
	if len(history) == 0 {
		return "v1"
	}
	last := history[len(history)-1].Label
	n, err := strconv.Atoi(strings.TrimPrefix(last, "v"))
	if err != nil || n < 1 {
		return "v1"
	}
	return "v" + strconv.Itoa(n+1)
}
