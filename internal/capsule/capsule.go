// Package capsule implements the Original-Spec Capsule: the minimal
// serialized snapshot of a pod's original container specification,
// carried as environment variables on the mutated pod's logger
// container so it survives admission without an external store.
package capsule

import "encoding/json"

// Capsule is the exact fragment of the user's pod necessary to
// reconstitute the workload on the remote backend.
type Capsule struct {
	Images   []string            `json:"images"`
	Names    []string            `json:"names"`
	Commands [][]string          `json:"commands"`
	Args     [][]string          `json:"args"`
	Env      map[string]string   `json:"env"`
}

// Env var names the capsule is encoded under on the logger container.
// These are looked up by name, never by positional index: the source
// system reads these positionally, which breaks the moment env var
// ordering changes. This implementation is keyed by name throughout.
const (
	EnvImages   = "ORIGINAL_IMAGES"
	EnvNames    = "ORIGINAL_NAMES"
	EnvCommands = "ORIGINAL_COMMANDS"
	EnvArgs     = "ORIGINAL_ARGS"
	EnvEnv      = "ORIGINAL_ENV"
)

// Container is the minimal shape of a pod container this package
// needs, decoupled from any particular Kubernetes API type so both
// the webhook (operating on raw admission JSON) and tests can
// construct it directly.
type Container struct {
	Name    string
	Image   string
	Command []string
	Args    []string
	Env     map[string]string
}

// Encode builds a Capsule from a pod's containers, merging envs by
// key in container order (last writer wins) while keeping container
// index 0 canonical for image/command/args ordering.
func Encode(containers []Container) Capsule {
	c := Capsule{
		Images:   make([]string, 0, len(containers)),
		Names:    make([]string, 0, len(containers)),
		Commands: make([][]string, 0, len(containers)),
		Args:     make([][]string, 0, len(containers)),
		Env:      map[string]string{},
	}
	for _, ctr := range containers {
		c.Images = append(c.Images, ctr.Image)
		c.Names = append(c.Names, ctr.Name)
		c.Commands = append(c.Commands, ctr.Command)
		c.Args = append(c.Args, ctr.Args)
		for k, v := range ctr.Env {
			c.Env[k] = v
		}
	}
	return c
}

// EncodeEnv renders the capsule as the five env-var values the
// mutation contract places on the logger container, JSON-encoding
// each field independently.
func EncodeEnv(c Capsule) (map[string]string, error) {
	images, err := json.Marshal(c.Images)
	if err != nil {
		return nil, err
	}
	names, err := json.Marshal(c.Names)
	if err != nil {
		return nil, err
	}
	commands, err := json.Marshal(c.Commands)
	if err != nil {
		return nil, err
	}
	args, err := json.Marshal(c.Args)
	if err != nil {
		return nil, err
	}
	env, err := json.Marshal(c.Env)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		EnvImages:   string(images),
		EnvNames:    string(names),
		EnvCommands: string(commands),
		EnvArgs:     string(args),
		EnvEnv:      string(env),
	}, nil
}

// Decode reconstructs a Capsule from the logger container's env map,
// looking each field up by name. A missing key decodes as the zero
// value for its field rather than an error, since some capsules
// (e.g. legacy, non-mutated paths) never populate all five.
func Decode(env map[string]string) (Capsule, error) {
	var c Capsule
	if v, ok := env[EnvImages]; ok {
		if err := json.Unmarshal([]byte(v), &c.Images); err != nil {
			return Capsule{}, err
		}
	}
	if v, ok := env[EnvNames]; ok {
		if err := json.Unmarshal([]byte(v), &c.Names); err != nil {
			return Capsule{}, err
		}
	}
	if v, ok := env[EnvCommands]; ok {
		if err := json.Unmarshal([]byte(v), &c.Commands); err != nil {
			return Capsule{}, err
		}
	}
	if v, ok := env[EnvArgs]; ok {
		if err := json.Unmarshal([]byte(v), &c.Args); err != nil {
			return Capsule{}, err
		}
	}
	if v, ok := env[EnvEnv]; ok {
		if err := json.Unmarshal([]byte(v), &c.Env); err != nil {
			return Capsule{}, err
		}
	}
	return c, nil
}

// CanonicalImage returns the container-index-0 image, the canonical
// image per the translator's ordering rule.
func (c Capsule) CanonicalImage() string {
	if len(c.Images) == 0 {
		return ""
	}
	return c.Images[0]
}

// CanonicalCommand returns the container-index-0 command.
func (c Capsule) CanonicalCommand() []string {
	if len(c.Commands) == 0 {
		return nil
	}
	return c.Commands[0]
}

// CanonicalArgs returns the container-index-0 args.
func (c Capsule) CanonicalArgs() []string {
	if len(c.Args) == 0 {
		return nil
	}
	return c.Args[0]
}
