package config

import (
	"github.com/spf13/viper"

	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// AzureDeployment maps a registry model key to an Azure OpenAI deployment
type AzureDeployment struct {
	ResourceName   string `yaml:"resourceName"   json:"resourceName"   mapstructure:"resourceName"`
	DeploymentName string `yaml:"deploymentName" json:"deploymentName" mapstructure:"deploymentName"`
}

// ServerKeys holds the provider credentials configured for the whole service
type ServerKeys struct {
	OpenAI            string
	AzureAPIKey       string
	AzureResourceName string
	AzureDeployments  map[string]AzureDeployment
	Anthropic         string
	OpenRouter        string
	TitleOpenRouter   string
	Google            string
	DeepSeek          string
	XAI               string
	OllamaURL         string
}

func bindProviderVariables() {
	bindEnvVariable("OPENAI_API_KEY", "")
	bindEnvVariable("AZURE_API_KEY", "")
	bindEnvVariable("AZURE_RESOURCE_NAME", "")
	bindEnvVariable("ANTHROPIC_API_KEY", "")
	bindEnvVariable("OPENROUTER_API_KEY", "")
	bindEnvVariable("TITLE_GENERATOR_OPENROUTER_API_KEY", "")
	bindEnvVariable("GOOGLE_API_KEY", "")
	bindEnvVariable("DEEPSEEK_API_KEY", "")
	bindEnvVariable("XAI_API_KEY", "")
	bindEnvVariable("OLLAMA_URL", "")
}

// GetServerKeys returns the provider credentials from viper
func GetServerKeys() ServerKeys {
	return ServerKeys{
		OpenAI:            viper.GetString("OPENAI_API_KEY"),
		AzureAPIKey:       viper.GetString("AZURE_API_KEY"),
		AzureResourceName: viper.GetString("AZURE_RESOURCE_NAME"),
		AzureDeployments:  GetAzureDeployments(),
		Anthropic:         viper.GetString("ANTHROPIC_API_KEY"),
		OpenRouter:        viper.GetString("OPENROUTER_API_KEY"),
		TitleOpenRouter:   viper.GetString("TITLE_GENERATOR_OPENROUTER_API_KEY"),
		Google:            viper.GetString("GOOGLE_API_KEY"),
		DeepSeek:          viper.GetString("DEEPSEEK_API_KEY"),
		XAI:               viper.GetString("XAI_API_KEY"),
		OllamaURL:         viper.GetString("OLLAMA_URL"),
	}
}

// GetAzureDeployments returns the deployments configured under the azure_deployments key
func GetAzureDeployments() map[string]AzureDeployment {
	deployments := map[string]AzureDeployment{}
	if !viper.IsSet("azure_deployments") {
		return deployments
	}
	if err := viper.UnmarshalKey("azure_deployments", &deployments); err != nil {
		logging.LogWarningf(err, "Failed to unmarshal azure_deployments from config")
		return map[string]AzureDeployment{}
	}
	return deployments
}
