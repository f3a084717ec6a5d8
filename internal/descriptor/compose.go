package descriptor

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// RevisionLabel carries the build revision on compose services.
const RevisionLabel = "tenantforge.revision"

// ComposeFile is the subset of the compose document format the provisioner emits.
type ComposeFile struct {
	Services map[string]ComposeService `yaml:"services"`
	Networks map[string]ComposeNetwork `yaml:"networks,omitempty"`
	Volumes  map[string]ComposeVolume  `yaml:"volumes,omitempty"`
}

// ComposeService is one service entry.
type ComposeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name,omitempty"`
	Command       []string          `yaml:"command,omitempty"`
	Restart       string            `yaml:"restart,omitempty"`
	PullPolicy    string            `yaml:"pull_policy,omitempty"`
	Networks      []string          `yaml:"networks,omitempty"`
	Ports         []string          `yaml:"ports,omitempty"`
	Labels        map[string]string `yaml:"labels,omitempty"`
	Environment   map[string]string `yaml:"environment,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
}

// ComposeNetwork declares a network; the proxy network is always external.
type ComposeNetwork struct {
	External bool `yaml:"external"`
}

// ComposeVolume pins the volume name so it does not get a project prefix.
type ComposeVolume struct {
	Name string `yaml:"name"`
}

// Marshal renders the document as YAML.
func (c *ComposeFile) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal compose file: %w", err)
	}
	return data, nil
}

// ServiceName is the compose service key used for every tenant.
const ServiceName = "n8n"

func (b *Builder) composeFile(p Params, d *Descriptor) *ComposeFile {
	router := d.Handles.Workload
	env := make(map[string]string)
	for _, kv := range b.env(p, d.Subdomain) {
		env[kv[0]] = kv[1]
	}

	rt := "traefik.http.routers." + router
	mw := "traefik.http.middlewares." + router
	labels := map[string]string{"traefik.enable": "true"}
	labels[rt+".rule"] = fmt.Sprintf("Host(`%s`)", d.Subdomain)
	labels[rt+".tls"] = "true"
	labels[rt+".entrypoints"] = b.workload.Entrypoints
	labels[rt+".tls.certresolver"] = b.workload.CertResolver
	labels[rt+".middlewares"] = router + "@docker"
	labels[mw+".headers.SSLRedirect"] = "true"
	labels[mw+".headers.STSSeconds"] = "315360000"
	labels[mw+".headers.forceSTSHeader"] = "true"
	labels[mw+".headers.SSLHost"] = b.workload.Domain
	labels[mw+".headers.STSIncludeSubdomains"] = "true"
	labels[mw+".headers.STSPreload"] = "true"
	labels["traefik.http.services."+router+".loadbalancer.server.port"] = strconv.Itoa(b.workload.ContainerPort)
	if p.Revision != "" {
		labels[RevisionLabel] = p.Revision
	}

	hostPort := strconv.Itoa(p.Port) + ":" + strconv.Itoa(b.workload.ContainerPort)
	if b.compose.BindHost != "" {
		hostPort = b.compose.BindHost + ":" + hostPort
	}

	svc := ComposeService{
		Image:       b.workload.Image,
		Command:     b.command(p),
		Restart:     "always",
		PullPolicy:  b.workload.PullPolicy,
		Ports:       []string{hostPort},
		Labels:      labels,
		Environment: env,
		Volumes:     []string{d.Handles.Storage + ":" + b.workload.DataPath},
	}

	file := &ComposeFile{
		Services: map[string]ComposeService{ServiceName: svc},
		Volumes:  map[string]ComposeVolume{d.Handles.Storage: {Name: d.Handles.Storage}},
	}
	if b.compose.Network != "" {
		svc.Networks = []string{b.compose.Network}
		file.Services[ServiceName] = svc
		file.Networks = map[string]ComposeNetwork{b.compose.Network: {External: true}}
	}
	return file
}
