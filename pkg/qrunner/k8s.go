package qrunner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/quatton/qmag/pkg/k8s"
	"github.com/quatton/qmag/pkg/qlog"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"
)

const (
	// KueueQueueLabel is the label key for Kueue queue name
	KueueQueueLabel = "kueue.x-k8s.io/queue-name"

	jobIDLabel         = "qmag.job-id"
	mainContainerName  = "oommf"
	stageContainerName = "stage-inputs"
	inputsMountPath    = "/inputs"
	maxLogBytes        = 16 << 20
)

var configMapKey = regexp.MustCompile(`^[-._a-zA-Z0-9]+$`)

// K8sConfig configures a K8sRunner.
type K8sConfig struct {
	Kubeconfig string // Optional; see k8s.GetConfig for the lookup order
	Namespace  string
	QueueName  string // Optional Kueue queue; jobs start suspended when set
	Container  ContainerConfig
}

// K8sRunner executes jobs as Kubernetes Jobs. Inputs travel in a ConfigMap
// that an init container copies into an emptyDir working directory. Pod logs
// are returned as Stdout; output files stay in the cluster.
type K8sRunner struct {
	client       kubernetes.Interface
	config       K8sConfig
	pollInterval time.Duration
	logger       *qlog.Logger
}

// NewK8sRunner creates a runner using in-cluster config or the kubeconfig.
// An empty Namespace falls back to the current context's namespace.
func NewK8sRunner(config K8sConfig, opts ...Option) (*K8sRunner, error) {
	cluster, err := k8s.Connect(config.Kubeconfig)
	if err != nil {
		return nil, unavailable("set k8s.kubeconfig or KUBECONFIG to a reachable cluster",
			"creating k8s client: %w", err)
	}
	if config.Namespace == "" {
		config.Namespace = cluster.Namespace
	}
	return NewK8sRunnerWithClient(cluster.Client, config, opts...), nil
}

// NewK8sRunnerWithClient creates a runner around an existing clientset.
func NewK8sRunnerWithClient(client kubernetes.Interface, config K8sConfig, opts ...Option) *K8sRunner {
	if config.Namespace == "" {
		config.Namespace = "default"
	}
	config.Container = config.Container.withDefaults()

	o := buildOptions(opts)
	interval := o.pollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	return &K8sRunner{
		client:       client,
		config:       config,
		pollInterval: interval,
		logger:       o.logger.With("backend", BackendK8s, "namespace", config.Namespace),
	}
}

func (r *K8sRunner) Name() string { return string(BackendK8s) }

// Check verifies the API server answers within ctx.
func (r *K8sRunner) Check(ctx context.Context) error {
	var err error
	if rc := r.client.Discovery().RESTClient(); rc != nil {
		_, err = rc.Get().AbsPath("/version").Do(ctx).Raw()
	} else {
		_, err = r.client.Discovery().ServerVersion()
	}
	if err != nil {
		if cerr := contextError(ctx); cerr != nil {
			return cerr
		}
		return unavailable("check your kubeconfig or in-cluster service account",
			"kubernetes API unreachable: %w", err)
	}
	return nil
}

func (r *K8sRunner) Run(ctx context.Context, job Job) (*RunResult, error) {
	if err := contextError(ctx); err != nil {
		return nil, err
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	name := k8sName(job.ID)
	cm, err := r.inputsConfigMap(name, job)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now()
	defer r.cleanup(name)

	if _, err := r.client.CoreV1().ConfigMaps(r.config.Namespace).Create(ctx, cm, metav1.CreateOptions{}); err != nil {
		if cerr := contextError(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, unavailable("check RBAC for configmaps in the namespace", "creating configmap: %w", err)
	}

	spec, err := r.jobSpec(name, job)
	if err != nil {
		return nil, err
	}
	if _, err := r.client.BatchV1().Jobs(r.config.Namespace).Create(ctx, spec, metav1.CreateOptions{}); err != nil {
		if cerr := contextError(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, unavailable("check RBAC for jobs in the namespace", "creating job: %w", err)
	}
	r.logger.Debug("job created", "job", job.ID, "name", name)

	if err := r.waitForJob(ctx, name); err != nil {
		if cerr := contextError(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}

	exit, err := r.collect(ctx, name)
	if err != nil {
		if cerr := contextError(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}

	return complete(job, BackendK8s, startedAt, exit)
}

func (r *K8sRunner) inputsConfigMap(name string, job Job) (*corev1.ConfigMap, error) {
	data := make(map[string][]byte, len(job.Inputs))
	for _, in := range job.Inputs {
		if !configMapKey.MatchString(in) {
			return nil, fmt.Errorf("input %q is not a valid configmap key", in)
		}
		b, err := os.ReadFile(filepath.Join(job.Dir, in))
		if err != nil {
			return nil, fmt.Errorf("reading input %s: %w", in, err)
		}
		data[in] = b
	}
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{jobIDLabel: job.ID},
		},
		BinaryData: data,
	}, nil
}

func (r *K8sRunner) jobSpec(name string, job Job) (*batchv1.Job, error) {
	c := r.config.Container

	requests, err := resourceList(c.Resources.CPURequest, c.Resources.MemoryRequest)
	if err != nil {
		return nil, err
	}
	limits, err := resourceList(c.Resources.CPULimit, c.Resources.MemoryLimit)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string)
	for k, v := range c.Env {
		env[k] = v
	}
	for k, v := range job.Env {
		env[k] = v
	}
	env["QMAG_JOB_ID"] = job.ID
	env["QMAG_JOB_DIR"] = c.WorkDir

	labels := map[string]string{jobIDLabel: job.ID}
	suspend := false
	if r.config.QueueName != "" {
		labels[KueueQueueLabel] = r.config.QueueName
		suspend = true // Kueue unsuspends when admitted
	}

	volumes := []corev1.Volume{
		{
			Name: "inputs",
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{Name: name},
				},
			},
		},
		{
			Name:         "io",
			VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
		},
	}
	ioMount := corev1.VolumeMount{Name: "io", MountPath: c.WorkDir}

	var initContainers []corev1.Container
	if len(job.Inputs) > 0 {
		stage := []string{"cp", "-L"}
		for _, in := range job.Inputs {
			stage = append(stage, inputsMountPath+"/"+in)
		}
		stage = append(stage, c.WorkDir+"/")
		initContainers = append(initContainers, corev1.Container{
			Name:    stageContainerName,
			Image:   c.Image,
			Command: stage,
			VolumeMounts: []corev1.VolumeMount{
				{Name: "inputs", MountPath: inputsMountPath, ReadOnly: true},
				ioMount,
			},
		})
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: labels,
		},
		Spec: batchv1.JobSpec{
			Parallelism:  ptr.To(int32(1)),
			Completions:  ptr.To(int32(1)),
			Suspend:      ptr.To(suspend),
			BackoffLimit: ptr.To(int32(0)),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{jobIDLabel: job.ID}},
				Spec: corev1.PodSpec{
					RestartPolicy:  corev1.RestartPolicyNever,
					Volumes:        volumes,
					InitContainers: initContainers,
					Containers: []corev1.Container{{
						Name:         mainContainerName,
						Image:        c.Image,
						Command:      append(append([]string{}, c.Command...), job.Args...),
						WorkingDir:   c.WorkDir,
						Env:          envMapToEnvVars(env),
						VolumeMounts: []corev1.VolumeMount{ioMount},
						Resources: corev1.ResourceRequirements{
							Requests: requests,
							Limits:   limits,
						},
					}},
				},
			},
		},
	}, nil
}

// waitForJob polls until the Job has finished either way. A pod stuck
// pulling its image is reported as an unavailable backend.
func (r *K8sRunner) waitForJob(ctx context.Context, name string) error {
	jobs := r.client.BatchV1().Jobs(r.config.Namespace)
	return wait.PollUntilContextCancel(ctx, r.pollInterval, true, func(ctx context.Context) (bool, error) {
		j, err := jobs.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, fmt.Errorf("getting job: %w", err)
		}
		if j.Status.Succeeded > 0 || j.Status.Failed > 0 {
			return true, nil
		}
		for _, cond := range j.Status.Conditions {
			if (cond.Type == batchv1.JobComplete || cond.Type == batchv1.JobFailed) && cond.Status == corev1.ConditionTrue {
				return true, nil
			}
		}

		pod, err := r.jobPod(ctx, name)
		if err != nil || pod == nil {
			return false, nil
		}
		for _, st := range append(pod.Status.InitContainerStatuses, pod.Status.ContainerStatuses...) {
			if w := st.State.Waiting; w != nil && (w.Reason == "ErrImagePull" || w.Reason == "ImagePullBackOff" || w.Reason == "InvalidImageName") {
				return false, unavailable(fmt.Sprintf("check that image %s exists and is pullable", r.config.Container.Image),
					"pod %s: %s: %s", pod.Name, w.Reason, w.Message)
			}
		}
		return false, nil
	})
}

// collect reads the main container's exit code and logs.
func (r *K8sRunner) collect(ctx context.Context, name string) (*Exit, error) {
	pod, err := r.jobPod(ctx, name)
	if err != nil {
		return nil, err
	}
	if pod == nil {
		return nil, fmt.Errorf("no pod found for job %s", name)
	}

	for _, st := range pod.Status.InitContainerStatuses {
		if t := st.State.Terminated; st.Name == stageContainerName && t != nil && t.ExitCode != 0 {
			return nil, unavailable("check that the image provides cp",
				"pod %s: staging inputs failed with exit code %d: %s", pod.Name, t.ExitCode, t.Message)
		}
	}

	code := -1
	for _, st := range pod.Status.ContainerStatuses {
		if st.Name == mainContainerName && st.State.Terminated != nil {
			code = int(st.State.Terminated.ExitCode)
		}
	}

	logs, err := r.podLogs(ctx, pod.Name)
	if err != nil {
		return nil, err
	}

	// Kubernetes interleaves both streams; keep them in Stderr as well so
	// failures carry diagnostics.
	exit := &Exit{Code: code, Stdout: logs}
	if code != 0 {
		exit.Stderr = logs
	}
	return exit, nil
}

func (r *K8sRunner) jobPod(ctx context.Context, name string) (*corev1.Pod, error) {
	pods, err := r.client.CoreV1().Pods(r.config.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("job-name=%s", name),
	})
	if err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}
	if len(pods.Items) == 0 {
		return nil, nil
	}
	sort.Slice(pods.Items, func(i, j int) bool {
		return pods.Items[i].CreationTimestamp.After(pods.Items[j].CreationTimestamp.Time)
	})
	return &pods.Items[0], nil
}

func (r *K8sRunner) podLogs(ctx context.Context, pod string) (string, error) {
	req := r.client.CoreV1().Pods(r.config.Namespace).GetLogs(pod, &corev1.PodLogOptions{Container: mainContainerName})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("getting pod logs: %w", err)
	}
	defer stream.Close()

	data, err := io.ReadAll(io.LimitReader(stream, maxLogBytes))
	if err != nil {
		return "", fmt.Errorf("reading pod logs: %w", err)
	}
	return string(data), nil
}

// cleanup deletes the Job (and its pods) and the inputs ConfigMap. It runs
// on every exit path with its own context.
func (r *K8sRunner) cleanup(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), containerCleanupTimeout)
	defer cancel()

	policy := metav1.DeletePropagationBackground
	if err := r.client.BatchV1().Jobs(r.config.Namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &policy,
	}); err != nil && !apierrors.IsNotFound(err) {
		r.logger.Warn("failed to delete job", "name", name, "error", err)
	}
	if err := r.client.CoreV1().ConfigMaps(r.config.Namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		r.logger.Warn("failed to delete configmap", "name", name, "error", err)
	}
	r.logger.Debug("job cleaned up", "name", name)
}

func resourceList(cpu, memory string) (corev1.ResourceList, error) {
	list := corev1.ResourceList{}
	if cpu != "" {
		q, err := resource.ParseQuantity(cpu)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu quantity %q: %w", cpu, err)
		}
		list[corev1.ResourceCPU] = q
	}
	if memory != "" {
		q, err := resource.ParseQuantity(memory)
		if err != nil {
			return nil, fmt.Errorf("invalid memory quantity %q: %w", memory, err)
		}
		list[corev1.ResourceMemory] = q
	}
	return list, nil
}

func envMapToEnvVars(m map[string]string) []corev1.EnvVar {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vars := make([]corev1.EnvVar, 0, len(keys))
	for _, k := range keys {
		vars = append(vars, corev1.EnvVar{Name: k, Value: m[k]})
	}
	return vars
}

// k8sName derives a DNS-1123 name from a job ID.
func k8sName(jobID string) string {
	name := containerName(jobID)
	out := make([]rune, 0, len(name))
	for _, c := range name {
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c+('a'-'A'))
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			out = append(out, c)
		default:
			out = append(out, '-')
		}
	}
	if len(out) > 63 {
		out = out[:63]
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return string(out)
}

var _ Runner = (*K8sRunner)(nil)
