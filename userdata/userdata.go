// Package userdata renders the boot script handed to a freshly launched
// instance. The script checks out the configuration repositories, writes
// the extra vars and runs the playbooks with progress reporting enabled on
// the run's queue.
package userdata

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"
	"text/template"
)

// Params carries every value interpolated into the boot script.
type Params struct {
	Environment string
	Deployment  string
	Play        string
	CacheID     string
	QueueName   string
	QueueRegion string

	ConfigurationVersion        string
	ConfigurationSecureVersion  string
	ConfigurationSecureRepo     string
	ConfigurationPrivateVersion string
	ConfigurationPrivateRepo    string

	PlaybookDir string
	SecureVars  string

	// Identity is the deploy key for the secure repositories. Empty means
	// the secure checkout is skipped.
	Identity string

	ExtraVars string
	GitRefs   string
}

// DefaultSecureVars is the secure vars file used when none is given.
func DefaultSecureVars(env, dep string) string {
	return fmt.Sprintf("ansible/vars/%s-%s.yml", env, dep)
}

// LoadIdentity reads the deploy key file. An empty path is allowed.
func LoadIdentity(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("read identity %s: %w", p, err)
	}
	return string(data), nil
}

var script = template.Must(template.New("user-data").Funcs(template.FuncMap{
	"basename": func(repo string) string { return path.Base(repo) },
	"trim":     strings.TrimSpace,
}).Parse(scriptText))

// Render returns the boot script for p.
func Render(p Params) (string, error) {
	if p.QueueRegion == "" {
		p.QueueRegion = "us-east-1"
	}
	if p.SecureVars == "" {
		p.SecureVars = DefaultSecureVars(p.Environment, p.Deployment)
	}
	var buf bytes.Buffer
	if err := script.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render user data: %w", err)
	}
	return buf.String(), nil
}

const scriptText = `#!/bin/bash
set -x
set -e
exec > >(tee /var/log/user-data.log|logger -t user-data -s 2>/dev/console) 2>&1
base_dir="/var/tmp/edx-cfg"
extra_vars="$base_dir/extra-vars-$$.yml"
secure_identity="$base_dir/secure-identity"
git_ssh="$base_dir/git_ssh.sh"
configuration_version="{{.ConfigurationVersion}}"
configuration_secure_version="{{.ConfigurationSecureVersion}}"
configuration_private_version="{{.ConfigurationPrivateVersion}}"
environment="{{.Environment}}"
deployment="{{.Deployment}}"
play="{{.Play}}"
config_secure={{if .Identity}}true{{else}}false{{end}}
git_repo_name="configuration"
git_repo="https://github.com/edx/$git_repo_name"
git_repo_secure="{{.ConfigurationSecureRepo}}"
git_repo_secure_name="{{basename .ConfigurationSecureRepo}}"
git_repo_private="{{.ConfigurationPrivateRepo}}"
git_repo_private_name=$(basename $git_repo_private .git)
secure_vars_file="$base_dir/$git_repo_secure_name/{{.SecureVars}}"
instance_id=$(curl http://169.254.169.254/latest/meta-data/instance-id 2>/dev/null)
instance_ip=$(curl http://169.254.169.254/latest/meta-data/local-ipv4 2>/dev/null)
playbook_dir="$base_dir/{{.PlaybookDir}}"

if $config_secure; then
    git_cmd="env GIT_SSH=$git_ssh git"
else
    git_cmd="git"
fi

ANSIBLE_ENABLE_SQS=true
SQS_NAME={{.QueueName}}
SQS_REGION={{.QueueRegion}}
SQS_MSG_PREFIX="[ $instance_id $instance_ip $environment-$deployment $play ]"
PYTHONUNBUFFERED=1
export ANSIBLE_ENABLE_SQS SQS_NAME SQS_REGION SQS_MSG_PREFIX PYTHONUNBUFFERED

if [[ ! -x /usr/bin/git || ! -x /usr/bin/pip ]]; then
    /usr/bin/apt-get update
    /usr/bin/apt-get install -y git python-pip python-apt \
        git-core build-essential python-dev libxml2-dev \
        libxslt-dev curl --force-yes
fi

rm -rf $base_dir
mkdir -p $base_dir
cd $base_dir

cat << EOF > $git_ssh
#!/bin/sh
exec /usr/bin/ssh -o StrictHostKeyChecking=no -i "$secure_identity" "\$@"
EOF
chmod 755 $git_ssh
{{if .Identity}}
cat << EOF > $secure_identity
{{trim .Identity}}
EOF
chmod 400 $secure_identity
{{end}}
cat << EOF >> $extra_vars
---
{{trim .ExtraVars}}

{{trim .GitRefs}}

fake_migrations: true
EDXAPP_UPDATE_STATIC_FILES_KEY: true
edxapp_dynamic_cache_key: {{.Deployment}}-{{.Environment}}-{{.Play}}-{{.CacheID}}
disable_edx_services: true
EOF

$git_cmd clone $git_repo $git_repo_name
cd $git_repo_name
$git_cmd checkout $configuration_version
cd $base_dir

if $config_secure; then
    $git_cmd clone $git_repo_secure $git_repo_secure_name
    cd $git_repo_secure_name
    $git_cmd checkout $configuration_secure_version
    cd $base_dir
fi

if [[ ! -z $git_repo_private ]]; then
    $git_cmd clone $git_repo_private $git_repo_private_name
    cd $git_repo_private_name
    $git_cmd checkout $configuration_private_version
    cd $base_dir
fi

cd $base_dir/$git_repo_name
sudo pip install -r requirements.txt

cd $playbook_dir

ansible-playbook -vvvv -c local -i "localhost," $play.yml -e@$secure_vars_file -e@$extra_vars
ansible-playbook -vvvv -c local -i "localhost," stop_all_edx_services.yml -e@$secure_vars_file -e@$extra_vars

rm -rf $base_dir
`
