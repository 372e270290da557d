package imagegen

import (
	"net/url"
	"strings"
)

var azureHostSuffixes = []string{".openai.azure.com", ".cognitiveservices.azure.com"}

// IsAzureEndpoint reports whether endpoint points at an Azure OpenAI
// resource, which needs deployment-based routing and an api-version query.
func IsAzureEndpoint(endpoint string) bool {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, suffix := range azureHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
