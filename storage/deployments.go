package storage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/JiseokYu/code-push-server/errors"
	"github.com/JiseokYu/code-push-server/types"
)

// DeploymentRepository manages deployment channels under apps. Every
// read and write is gated on app collaboration, and every deployment
// key maps back to its deployment through the deploymentKeys index for
// the client update-check path.
type DeploymentRepository struct {
	s *Storage
}

// AddDeployment creates a deployment under an app the account
// collaborates on. A missing deployment key is generated. Creation is a
// three-step sequence: the deployment document, the key index (the
// uniqueness guard for keys, failing AlreadyExists), then an empty
// history blob. A failure mid-sequence leaves a deployment without an
// index or history, repaired by retrying under a fresh key.
func (r *DeploymentRepository) AddDeployment(ctx context.Context, accountID, appID string, deployment types.Deployment) (types.Deployment, error) {
	if _, err := r.s.apps.GetApp(ctx, accountID, appID); err != nil {
		return types.Deployment{}, err
	}
	if deployment.Name == "" {
		return types.Deployment{}, errors.New(errors.Invalid, "DeploymentRepository", "AddDeployment", "deployment name cannot be empty")
	}

	deployment.ID = uuid.NewString()
	deployment.CreatedTime = r.s.now()
	deployment.Package = nil
	if deployment.Key == "" {
		deployment.Key = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	}

	data, err := json.Marshal(deployment)
	if err != nil {
		return types.Deployment{}, errors.Wrap(errors.Other, err, "DeploymentRepository", "AddDeployment", "marshal deployment")
	}
	if err := r.s.docs.Set(ctx, CollectionDeployments, compositeKey(appID, deployment.ID), data); err != nil {
		return types.Deployment{}, errors.Wrap(errors.Other, err, "DeploymentRepository", "AddDeployment", "persist deployment")
	}

	info, err := json.Marshal(types.DeploymentInfo{AppID: appID, DeploymentID: deployment.ID})
	if err != nil {
		return types.Deployment{}, errors.Wrap(errors.Other, err, "DeploymentRepository", "AddDeployment", "marshal key index")
	}
	if err := r.s.docs.Create(ctx, CollectionDeploymentKeys, EncodeKeyToken(deployment.Key), info); err != nil {
		return types.Deployment{}, errors.Wrap(errors.AlreadyExists, err, "DeploymentRepository", "AddDeployment", "create key index")
	}

	if err := r.s.blobs.Put(ctx, historyBlobID(deployment.ID), []byte("[]")); err != nil {
		return types.Deployment{}, errors.Wrap(errors.Other, err, "DeploymentRepository", "AddDeployment", "initialize history blob")
	}

	r.s.logger.Debug("deployment created", "appId", appID, "deploymentId", deployment.ID)
	return deployment, nil
}

// GetDeployment fetches a deployment, failing NotFound when the app is
// inaccessible or the deployment does not belong to it. The key index is
// cross-validated against the requested app to catch stale or mismatched
// entries.
func (r *DeploymentRepository) GetDeployment(ctx context.Context, accountID, appID, deploymentID string) (types.Deployment, error) {
	if _, err := r.s.apps.GetApp(ctx, accountID, appID); err != nil {
		return types.Deployment{}, err
	}

	data, err := r.s.docs.Get(ctx, CollectionDeployments, compositeKey(appID, deploymentID))
	if err != nil {
		return types.Deployment{}, errors.Wrap(errors.NotFound, err, "DeploymentRepository", "GetDeployment", "fetch deployment")
	}

	var deployment types.Deployment
	if err := json.Unmarshal(data, &deployment); err != nil {
		return types.Deployment{}, errors.Wrap(errors.Other, err, "DeploymentRepository", "GetDeployment", "unmarshal deployment")
	}

	info, err := r.GetDeploymentInfo(ctx, deployment.Key)
	if err != nil {
		return types.Deployment{}, err
	}
	if info.AppID != appID || info.DeploymentID != deploymentID {
		return types.Deployment{}, errors.New(errors.NotFound, "DeploymentRepository", "GetDeployment", "deployment key index mismatch")
	}
	return deployment, nil
}

// GetDeploymentInfo resolves a deployment key to its app/deployment
// pair. This is the unauthenticated client update-check path; it
// cross-checks nothing beyond key existence.
func (r *DeploymentRepository) GetDeploymentInfo(ctx context.Context, deploymentKey string) (types.DeploymentInfo, error) {
	if err := r.s.ready(ctx); err != nil {
		return types.DeploymentInfo{}, err
	}

	data, err := r.s.docs.Get(ctx, CollectionDeploymentKeys, EncodeKeyToken(deploymentKey))
	if err != nil {
		return types.DeploymentInfo{}, errors.Wrap(errors.NotFound, err, "DeploymentRepository", "GetDeploymentInfo", "fetch key index")
	}

	var info types.DeploymentInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return types.DeploymentInfo{}, errors.Wrap(errors.Other, err, "DeploymentRepository", "GetDeploymentInfo", "unmarshal key index")
	}
	return info, nil
}

// GetDeployments lists all deployments under an accessible app.
func (r *DeploymentRepository) GetDeployments(ctx context.Context, accountID, appID string) ([]types.Deployment, error) {
	if _, err := r.s.apps.GetApp(ctx, accountID, appID); err != nil {
		return nil, err
	}

	ids, err := r.s.docs.Keys(ctx, CollectionDeployments, prefixFilter(appID))
	if err != nil {
		return nil, errors.Wrap(errors.Other, err, "DeploymentRepository", "GetDeployments", "list deployments")
	}

	docs, err := r.s.docs.GetAll(ctx, CollectionDeployments, ids)
	if err != nil {
		return nil, errors.Wrap(errors.Other, err, "DeploymentRepository", "GetDeployments", "batch fetch deployments")
	}

	deployments := make([]types.Deployment, 0, len(ids))
	for _, id := range ids {
		data, ok := docs[id]
		if !ok {
			continue
		}
		var deployment types.Deployment
		if err := json.Unmarshal(data, &deployment); err != nil {
			return nil, errors.Wrap(errors.Other, err, "DeploymentRepository", "GetDeployments", "unmarshal deployment")
		}
		deployments = append(deployments, deployment)
	}
	return deployments, nil
}

// UpdateDeployment overwrites the full deployment document after an
// authorized fetch.
func (r *DeploymentRepository) UpdateDeployment(ctx context.Context, accountID, appID string, deployment types.Deployment) error {
	if deployment.ID == "" {
		return errors.New(errors.Invalid, "DeploymentRepository", "UpdateDeployment", "deployment id cannot be empty")
	}
	if _, err := r.GetDeployment(ctx, accountID, appID, deployment.ID); err != nil {
		return err
	}

	data, err := json.Marshal(deployment)
	if err != nil {
		return errors.Wrap(errors.Other, err, "DeploymentRepository", "UpdateDeployment", "marshal deployment")
	}
	if err := r.s.docs.Set(ctx, CollectionDeployments, compositeKey(appID, deployment.ID), data); err != nil {
		return errors.Wrap(errors.Other, err, "DeploymentRepository", "UpdateDeployment", "persist deployment")
	}
	return nil
}

// RemoveDeployment is deliberately unimplemented: it would orphan the
// key index and history blob without a cleanup protocol.
func (r *DeploymentRepository) RemoveDeployment(ctx context.Context, accountID, appID, deploymentID string) error {
	return errors.New(errors.Invalid, "DeploymentRepository", "RemoveDeployment", "deployment removal is not supported")
}

// persistDeployment writes a deployment document without re-running the
// app authorization, for callers that already hold an authorized copy.
func (r *DeploymentRepository) persistDeployment(ctx context.Context, appID string, deployment *types.Deployment) error {
	data, err := json.Marshal(deployment)
	if err != nil {
		return err
	}
	return r.s.docs.Set(ctx, CollectionDeployments, compositeKey(appID, deployment.ID), data)
}
