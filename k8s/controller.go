// Package k8s provides a Kubernetes controller that merges PromptBundle CRs
// into the prompt store.
package k8s

import (
	"context"
	"fmt"
	"sort"
	"time"

	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/codragon2020/prompt-manager/bundle"
	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/importer"
	v1 "github.com/codragon2020/prompt-manager/k8s/api/v1"
)

// BundleImporter applies bundles to the store.
type BundleImporter interface {
	Import(ctx context.Context, b *bundle.Bundle, mode importer.Mode, actor string) (*importer.Result, error)
}

// PromptBundleReconciler reconciles PromptBundle CRs by merging them into the
// prompt store.
type PromptBundleReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Importer BundleImporter
	// Now defaults to time.Now.
	Now func() time.Time
}

// Reconcile converts the CR to a bundle, merges it and records the outcome in
// status. Deleting the CR leaves the prompt in place.
func (r *PromptBundleReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	cr := &v1.PromptBundle{}
	if err := r.Get(ctx, req.NamespacedName, cr); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}

	b, err := ToBundle(cr)
	if err == nil {
		actor := fmt.Sprintf("k8s:%s/%s", cr.Namespace, cr.Name)
		var res *importer.Result
		res, err = r.Importer.Import(ctx, b, importer.ModeMerge, actor)
		if err == nil {
			cr.Status.PromptID = res.Prompt.ID
			logger.Info("merged prompt bundle", "promptId", res.Prompt.ID, "created", res.Created, "versionsCreated", res.VersionsCreated)
		}
	}
	if err != nil {
		logger.Error(err, "failed to merge prompt bundle")
		cr.Status.Synced = false
		cr.Status.Message = err.Error()
		if uerr := r.Status().Update(ctx, cr); uerr != nil {
			logger.Error(uerr, "failed to update status")
		}
		if core.Code(err) == core.CodeBadRequest {
			// Invalid specs are not requeued.
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	cr.Status.Synced = true
	cr.Status.ImportedVersions = declaredVersions(b)
	cr.Status.ObservedGeneration = cr.Generation
	cr.Status.LastSyncTime = r.now().UTC().Format(time.RFC3339)
	cr.Status.Message = ""
	if err := r.Status().Update(ctx, cr); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}

func (r *PromptBundleReconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// ToBundle converts a CR into a bundle. The prompt id defaults to the object
// UID so each CR owns one prompt.
func ToBundle(cr *v1.PromptBundle) (*bundle.Bundle, error) {
	if cr.Spec.Name == "" {
		return nil, core.BadRequest("spec.name", "spec.name is required")
	}
	status := core.StatusActive
	if cr.Spec.Status != "" {
		s, err := core.ParseStatus(cr.Spec.Status)
		if err != nil {
			return nil, err
		}
		status = s
	}
	id := cr.Spec.PromptID
	if id == "" {
		id = string(cr.UID)
	}
	if id == "" {
		return nil, core.BadRequest("spec.promptId", "spec.promptId is required when the object has no UID")
	}

	b := &bundle.Bundle{
		Prompt: bundle.Prompt{
			ID:          id,
			Name:        cr.Spec.Name,
			Description: core.OptionalString(cr.Spec.Description),
			OwnerTeam:   core.OptionalString(cr.Spec.OwnerTeam),
			Status:      status,
			Tags:        append([]string{}, cr.Spec.Tags...),
		},
		Versions:     make([]bundle.Version, 0, len(cr.Spec.Versions)),
		Publications: []bundle.Publication{},
	}
	for i, vs := range cr.Spec.Versions {
		v := bundle.Version{
			Version:     vs.Version,
			Content:     vs.Content,
			ModelName:   core.OptionalString(vs.ModelName),
			Temperature: vs.Temperature,
			MaxTokens:   vs.MaxTokens,
			TopP:        vs.TopP,
			Notes:       core.OptionalString(vs.Notes),
			Variables:   make([]core.Variable, 0, len(vs.Variables)),
		}
		for j, in := range vs.Variables {
			typ := core.VariableTypeString
			if in.Type != "" {
				t, err := core.ParseVariableType(in.Type)
				if err != nil {
					return nil, core.BadRequest(fmt.Sprintf("spec.versions[%d].variables[%d].type", i, j), "%v", err)
				}
				typ = t
			}
			variable := core.Variable{Name: in.Name, Type: typ, Required: in.Required}
			if in.DefaultValue != nil {
				d := *in.DefaultValue
				variable.DefaultValue = &d
			}
			v.Variables = append(v.Variables, variable)
		}
		b.Versions = append(b.Versions, v)
	}
	return b, nil
}

func declaredVersions(b *bundle.Bundle) []int {
	var out []int
	for _, v := range b.Versions {
		if v.Version > 0 {
			out = append(out, v.Version)
		}
	}
	sort.Ints(out)
	return out
}

// SetupWithManager registers the reconciler with the manager.
func (r *PromptBundleReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1.PromptBundle{}).
		Complete(r)
}

// NewScheme returns a scheme with the PromptBundle types registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := v1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("add prompt bundle scheme: %w", err)
	}
	return scheme, nil
}
