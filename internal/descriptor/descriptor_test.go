package descriptor

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"

	"github.com/Strob0t/TenantForge/internal/config"
	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
)

func testBuilder() *Builder {
	cfg := config.Defaults()
	cfg.Workload.Domain = "example.com"
	return NewBuilder(&cfg)
}

func TestBuildComposeNaming(t *testing.T) {
	d, err := testBuilder().Build(Params{Username: "Alice", Port: 50123}, tenant.BackendCompose)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if d.Username != "alice" {
		t.Errorf("expected normalized username alice, got %q", d.Username)
	}
	if d.Subdomain != "alice.example.com" {
		t.Errorf("expected subdomain alice.example.com, got %q", d.Subdomain)
	}
	if d.Handles.Workload != "n8n-alice" {
		t.Errorf("expected project n8n-alice, got %q", d.Handles.Workload)
	}
	if d.Handles.Storage != "n8n_data_alice" {
		t.Errorf("expected volume n8n_data_alice, got %q", d.Handles.Storage)
	}
	if d.Endpoint.Port != 50123 {
		t.Errorf("expected port 50123, got %d", d.Endpoint.Port)
	}
	if d.Cluster != nil {
		t.Error("compose descriptor must not carry cluster resources")
	}

	svc := d.Compose.Services[ServiceName]
	if svc.Ports[0] != "50123:5678" {
		t.Errorf("expected port mapping 50123:5678, got %q", svc.Ports[0])
	}
	if svc.Labels["traefik.http.routers.n8n-alice.rule"] != "Host(`alice.example.com`)" {
		t.Errorf("unexpected router rule %q", svc.Labels["traefik.http.routers.n8n-alice.rule"])
	}
	if svc.Labels["traefik.http.routers.n8n-alice.tls"] != "true" {
		t.Error("expected tls enabled")
	}
	if svc.Labels["traefik.http.middlewares.n8n-alice.headers.SSLRedirect"] != "true" {
		t.Error("expected force-https header middleware")
	}
	if svc.Environment["WEBHOOK_URL"] != "https://alice.example.com/" {
		t.Errorf("unexpected WEBHOOK_URL %q", svc.Environment["WEBHOOK_URL"])
	}
	if svc.Volumes[0] != "n8n_data_alice:/home/node/.n8n" {
		t.Errorf("unexpected volume binding %q", svc.Volumes[0])
	}
	if _, ok := svc.Environment["LOGIN_EMAIL"]; ok {
		t.Error("LOGIN_EMAIL should be omitted when empty")
	}
	if !d.Compose.Networks["traefik-network"].External {
		t.Error("proxy network must be external")
	}
}

func TestBuildComposeMarshal(t *testing.T) {
	d, err := testBuilder().Build(Params{
		Username:      "bob",
		Port:          50000,
		Revision:      "rev-1",
		Tunnel:        true,
		LoginEmail:    "bob@example.com",
		LoginPassword: "hunter2",
	}, tenant.BackendCompose)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	data, err := d.Compose.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("rendered compose file is not valid YAML: %v", err)
	}
	out := string(data)
	for _, want := range []string{"n8nio/n8n:latest", "--tunnel", "LOGIN_EMAIL: bob@example.com", RevisionLabel + ": rev-1", "name: n8n_data_bob"} {
		if !strings.Contains(out, want) {
			t.Errorf("compose file missing %q:\n%s", want, out)
		}
	}
}

func TestBuildComposeRequiresPort(t *testing.T) {
	_, err := testBuilder().Build(Params{Username: "alice"}, tenant.BackendCompose)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildComposeBindHost(t *testing.T) {
	cfg := config.Defaults()
	cfg.Workload.Domain = "example.com"
	cfg.Compose.BindHost = "127.0.0.1"
	cfg.Compose.Network = ""
	d, err := NewBuilder(&cfg).Build(Params{Username: "alice", Port: 50001}, tenant.BackendCompose)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	svc := d.Compose.Services[ServiceName]
	if svc.Ports[0] != "127.0.0.1:50001:5678" {
		t.Errorf("unexpected port mapping %q", svc.Ports[0])
	}
	if len(svc.Networks) != 0 || d.Compose.Networks != nil {
		t.Error("expected no networks when none configured")
	}
}

func TestBuildCluster(t *testing.T) {
	d, err := testBuilder().Build(Params{Username: "alice", Revision: "r2"}, tenant.BackendKubernetes)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c := d.Cluster
	if c == nil || d.Compose != nil {
		t.Fatal("expected cluster resources only")
	}
	if c.Namespace.Name != "n8n-alice" {
		t.Errorf("expected namespace n8n-alice, got %q", c.Namespace.Name)
	}
	if c.PVC.Name != "n8n-data-alice" || c.PVC.Namespace != "n8n-alice" {
		t.Errorf("unexpected PVC %s/%s", c.PVC.Namespace, c.PVC.Name)
	}
	if got := c.PVC.Spec.Resources.Requests[corev1.ResourceStorage]; got.String() != "1536Mi" {
		t.Errorf("expected 1.5Gi storage request, got %s", got.String())
	}
	if d.Endpoint.Namespace != "n8n-alice" || d.Endpoint.Service != "n8n-alice" || d.Endpoint.Port != 0 {
		t.Errorf("unexpected endpoint %+v", d.Endpoint)
	}
	if d.Handles.Storage != "n8n-data-alice" {
		t.Errorf("expected storage handle n8n-data-alice, got %q", d.Handles.Storage)
	}

	pod := c.Deployment.Spec.Template
	if pod.Annotations[AnnotationRev] != "r2" {
		t.Errorf("expected revision annotation, got %v", pod.Annotations)
	}
	init := pod.Spec.InitContainers[0]
	if *init.SecurityContext.RunAsUser != 0 {
		t.Error("init container must run as root to fix ownership")
	}
	if !strings.Contains(init.Args[0], "chown -R 1000:1000 /home/node/.n8n") {
		t.Errorf("unexpected init args %q", init.Args[0])
	}
	app := pod.Spec.Containers[0]
	if *app.SecurityContext.RunAsUser != 1000 {
		t.Errorf("workload must run unprivileged, got uid %d", *app.SecurityContext.RunAsUser)
	}
	if pod.Spec.Volumes[0].PersistentVolumeClaim.ClaimName != "n8n-data-alice" {
		t.Error("deployment must mount the tenant PVC")
	}
	if c.Service.Spec.Type != corev1.ServiceTypeNodePort {
		t.Errorf("expected NodePort service, got %s", c.Service.Spec.Type)
	}
	if c.Service.Spec.Ports[0].TargetPort.IntValue() != 5678 {
		t.Errorf("expected target port 5678, got %v", c.Service.Spec.Ports[0].TargetPort)
	}
	if c.Service.Annotations[AnnotationHost] != "alice.example.com" {
		t.Errorf("expected host annotation, got %v", c.Service.Annotations)
	}
}

func TestBuildClusterInvalidStorageSize(t *testing.T) {
	cfg := config.Defaults()
	cfg.Workload.Domain = "example.com"
	cfg.Kubernetes.StorageSize = "lots"
	_, err := NewBuilder(&cfg).Build(Params{Username: "alice"}, tenant.BackendKubernetes)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildDeterministic(t *testing.T) {
	b := testBuilder()
	p := Params{Username: "ali ce!", Port: 51000, Revision: "x"}
	for _, kind := range []tenant.BackendKind{tenant.BackendCompose, tenant.BackendKubernetes} {
		first, err := b.Build(p, kind)
		if err != nil {
			t.Fatalf("Build %s: %v", kind, err)
		}
		second, err := b.Build(p, kind)
		if err != nil {
			t.Fatalf("Build %s: %v", kind, err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("%s: Build is not deterministic", kind)
		}
		if first.Username != "ali-ce" {
			t.Errorf("%s: expected canonical username ali-ce, got %q", kind, first.Username)
		}
	}
}

func TestBuildRejectsEmptyUsername(t *testing.T) {
	_, err := testBuilder().Build(Params{Username: "!!!", Port: 50000}, tenant.BackendCompose)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildUnknownBackend(t *testing.T) {
	_, err := testBuilder().Build(Params{Username: "alice", Port: 50000}, tenant.BackendKind("nomad"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNamesMatchBuild(t *testing.T) {
	b := testBuilder()
	d, err := b.Build(Params{Username: "carol"}, tenant.BackendKubernetes)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h, ep := b.Names("carol", tenant.BackendKubernetes)
	if h != d.Handles || ep != d.Endpoint {
		t.Errorf("Names diverges from Build: %+v %+v vs %+v %+v", h, ep, d.Handles, d.Endpoint)
	}
}
