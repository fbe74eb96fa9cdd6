// Package v1 contains the PromptBundle CRD types.
package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced

// PromptBundle declares a prompt and its versions to be merged into the
// prompt store.
type PromptBundle struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`
	Spec              PromptBundleSpec   `json:"spec,omitempty"`
	Status            PromptBundleStatus `json:"status,omitempty"`
}

// PromptBundleSpec mirrors the prompt section and versions of a bundle.
type PromptBundleSpec struct {
	// PromptID is the id to merge into. Defaults to the object UID.
	PromptID    string        `json:"promptId,omitempty"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	OwnerTeam   string        `json:"ownerTeam,omitempty"`
	Status      string        `json:"status,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Versions    []VersionSpec `json:"versions,omitempty"`
}

// VersionSpec is one declared version. Existing numbers are never rewritten.
type VersionSpec struct {
	Version     int            `json:"version"`
	Content     string         `json:"content"`
	ModelName   string         `json:"modelName,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"maxTokens,omitempty"`
	TopP        *float64       `json:"topP,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Variables   []VariableSpec `json:"variables,omitempty"`
}

// VariableSpec is a variable definition in the CRD.
type VariableSpec struct {
	Name         string  `json:"name"`
	Type         string  `json:"type,omitempty"`
	Required     bool    `json:"required,omitempty"`
	DefaultValue *string `json:"defaultValue,omitempty"`
}

// PromptBundleStatus defines the observed state of PromptBundle.
type PromptBundleStatus struct {
	Synced             bool   `json:"synced"`
	PromptID           string `json:"promptId,omitempty"`
	ImportedVersions   []int  `json:"importedVersions,omitempty"`
	ObservedGeneration int64  `json:"observedGeneration,omitempty"`
	LastSyncTime       string `json:"lastSyncTime,omitempty"`
	Message            string `json:"message,omitempty"`
}

// +kubebuilder:object:root=true

// PromptBundleList contains a list of PromptBundle.
type PromptBundleList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []PromptBundle `json:"items"`
}

// DeepCopyObject implements runtime.Object.
func (p *PromptBundle) DeepCopyObject() runtime.Object {
	if p == nil {
		return nil
	}
	out := &PromptBundle{}
	p.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies the receiver into out.
func (p *PromptBundle) DeepCopyInto(out *PromptBundle) {
	*out = *p
	out.TypeMeta = p.TypeMeta
	p.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	p.Spec.DeepCopyInto(&out.Spec)
	p.Status.DeepCopyInto(&out.Status)
}

// DeepCopyInto copies PromptBundleSpec.
func (s *PromptBundleSpec) DeepCopyInto(out *PromptBundleSpec) {
	*out = *s
	if s.Tags != nil {
		out.Tags = make([]string, len(s.Tags))
		copy(out.Tags, s.Tags)
	}
	if s.Versions != nil {
		out.Versions = make([]VersionSpec, len(s.Versions))
		for i := range s.Versions {
			s.Versions[i].DeepCopyInto(&out.Versions[i])
		}
	}
}

// DeepCopyInto copies VersionSpec.
func (v *VersionSpec) DeepCopyInto(out *VersionSpec) {
	*out = *v
	if v.Temperature != nil {
		t := *v.Temperature
		out.Temperature = &t
	}
	if v.MaxTokens != nil {
		n := *v.MaxTokens
		out.MaxTokens = &n
	}
	if v.TopP != nil {
		p := *v.TopP
		out.TopP = &p
	}
	if v.Variables != nil {
		out.Variables = make([]VariableSpec, len(v.Variables))
		for i := range v.Variables {
			out.Variables[i] = v.Variables[i]
			if d := v.Variables[i].DefaultValue; d != nil {
				val := *d
				out.Variables[i].DefaultValue = &val
			}
		}
	}
}

// DeepCopyInto copies PromptBundleStatus.
func (s *PromptBundleStatus) DeepCopyInto(out *PromptBundleStatus) {
	*out = *s
	if s.ImportedVersions != nil {
		out.ImportedVersions = make([]int, len(s.ImportedVersions))
		copy(out.ImportedVersions, s.ImportedVersions)
	}
}

// DeepCopyObject implements runtime.Object for PromptBundleList.
func (p *PromptBundleList) DeepCopyObject() runtime.Object {
	if p == nil {
		return nil
	}
	out := &PromptBundleList{}
	p.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies the list into out.
func (p *PromptBundleList) DeepCopyInto(out *PromptBundleList) {
	*out = *p
	out.TypeMeta = p.TypeMeta
	p.ListMeta.DeepCopyInto(&out.ListMeta)
	if p.Items != nil {
		out.Items = make([]PromptBundle, len(p.Items))
		for i := range p.Items {
			p.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}
