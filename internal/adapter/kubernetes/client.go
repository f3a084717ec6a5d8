package kubernetes

import (
	"fmt"
	"time"

	k8sclient "k8s.io/client-go/kubernetes"
	_ "k8s.io/client-go/plugin/pkg/client/auth" // auth providers for managed clusters
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/Strob0t/TenantForge/internal/config"
)

const requestTimeout = 30 * time.Second

// NewClientset builds a clientset. Without an explicit kubeconfig or context
// the in-cluster service account is tried first; otherwise the default
// loading rules apply with the configured context.
func NewClientset(cfg config.Kubernetes) (k8sclient.Interface, error) {
	rc, err := restConfig(cfg)
	if err != nil {
		return nil, err
	}
	rc.Timeout = requestTimeout

	cs, err := k8sclient.NewForConfig(rc)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes clientset: %w", err)
	}
	return cs, nil
}

func restConfig(cfg config.Kubernetes) (*rest.Config, error) {
	if cfg.Kubeconfig == "" && cfg.Context == "" {
		if rc, err := rest.InClusterConfig(); err == nil {
			return rc, nil
		}
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if cfg.Kubeconfig != "" {
		loadingRules.ExplicitPath = cfg.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: cfg.Context}
	rc, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("kubernetes REST config for context %q: %w", cfg.Context, err)
	}
	return rc, nil
}
