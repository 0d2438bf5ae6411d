// Package k8s locates the cluster the k8s runner submits jobs to.
package k8s

import (
	"os"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const inClusterNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// Cluster is a resolved connection: a clientset plus the namespace the
// current context (or the pod's service account) points at.
type Cluster struct {
	Client    *kubernetes.Clientset
	Namespace string
}

// Connect builds a clientset from GetConfig and resolves the namespace.
func Connect(kubeconfig string) (*Cluster, error) {
	config, namespace, err := GetConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, err
	}
	return &Cluster{Client: client, Namespace: namespace}, nil
}

// GetConfig returns a Kubernetes REST config and its default namespace.
// Priority: explicit kubeconfig > in-cluster config > KUBECONFIG env > ~/.kube/config
func GetConfig(kubeconfig string) (*rest.Config, string, error) {
	if kubeconfig == "" {
		// Try in-cluster config (when running in a pod)
		if config, err := rest.InClusterConfig(); err == nil {
			return config, inClusterNamespace(), nil
		}
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	cc := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{})

	config, err := cc.ClientConfig()
	if err != nil {
		return nil, "", err
	}
	namespace, _, err := cc.Namespace()
	if err != nil || namespace == "" {
		namespace = "default"
	}
	return config, namespace, nil
}

func inClusterNamespace() string {
	data, err := os.ReadFile(inClusterNamespaceFile)
	if err != nil || len(data) == 0 {
		return "default"
	}
	return string(data)
}
