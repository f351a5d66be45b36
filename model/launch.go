package model

// LaunchSpec is everything needed to start the build instance.
type LaunchSpec struct {
	ImageID          string   `json:"imageId" yaml:"image_id"`
	InstanceType     string   `json:"instanceType" yaml:"instance_type"`
	KeyName          string   `json:"keyName" yaml:"key_name"`
	SubnetID         string   `json:"subnetId" yaml:"subnet_id"`
	SecurityGroupIDs []string `json:"securityGroupIds" yaml:"security_group_ids"`
	InstanceProfile  string   `json:"instanceProfile" yaml:"instance_profile_name"`
	UserData         string   `json:"-" yaml:"-"`
}
