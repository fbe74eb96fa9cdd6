// Command prompt-operator runs a Kubernetes controller that merges PromptBundle
// CRs into the prompt store configured by PROMPT_* variables.
package main

import (
	"context"
	"flag"
	"os"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	promptmanager "github.com/codragon2020/prompt-manager"
	"github.com/codragon2020/prompt-manager/config"
	"github.com/codragon2020/prompt-manager/k8s"
	v1 "github.com/codragon2020/prompt-manager/k8s/api/v1"
	"github.com/codragon2020/prompt-manager/logging"
)

func main() {
	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
	setupLog := ctrl.Log.WithName("setup")

	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(v1.AddToScheme(scheme))

	cfg, err := config.Load()
	if err != nil {
		setupLog.Error(err, "unable to load config")
		os.Exit(1)
	}
	logger, err := logging.NewLogger("prompt-operator", cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		setupLog.Error(err, "unable to create logger")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx := ctrl.SetupSignalHandler()
	pm, err := promptmanager.Open(ctx, cfg, logger)
	if err != nil {
		setupLog.Error(err, "unable to open prompt store")
		os.Exit(1)
	}
	defer pm.Close()

	if err := run(ctx, scheme, pm); err != nil {
		setupLog.Error(err, "operator stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, scheme *runtime.Scheme, pm *promptmanager.Manager) error {
	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{Scheme: scheme})
	if err != nil {
		return err
	}
	reconciler := &k8s.PromptBundleReconciler{
		Client:   mgr.GetClient(),
		Scheme:   mgr.GetScheme(),
		Importer: pm.Importer,
	}
	if err := reconciler.SetupWithManager(mgr); err != nil {
		return err
	}
	return mgr.Start(ctx)
}
