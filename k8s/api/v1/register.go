package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// GroupName is the API group of the PromptBundle kinds.
const GroupName = "prompts.codragon2020.github.com"

// SchemeGroupVersion identifies the PromptBundle kinds.
var SchemeGroupVersion = schema.GroupVersion{Group: GroupName, Version: "v1"}

var (
	SchemeBuilder = runtime.NewSchemeBuilder(addKnownTypes)
	// AddToScheme registers PromptBundle and PromptBundleList.
	AddToScheme = SchemeBuilder.AddToScheme
)

func addKnownTypes(scheme *runtime.Scheme) error {
	scheme.AddKnownTypes(SchemeGroupVersion, &PromptBundle{}, &PromptBundleList{})
	metav1.AddToGroupVersion(scheme, SchemeGroupVersion)
	return nil
}
