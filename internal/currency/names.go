package currency

import (
	"strings"

	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
)

type mapping struct {
	from, to string
}

// serviceMappings maps provider service names to a cross-provider category.
// Order matters for partial matches.
var serviceMappings = map[provider.ProviderType][]mapping{
	provider.ProviderAWS: {
		{"Amazon EC2-Instance", "Compute"},
		{"Amazon Elastic Compute Cloud - Compute", "Compute"},
		{"Amazon Simple Storage Service", "Object Storage"},
		{"Amazon S3", "Object Storage"},
		{"Amazon Relational Database Service", "Database"},
		{"Amazon RDS", "Database"},
		{"Amazon CloudFront", "CDN"},
		{"AWS Lambda", "Functions"},
		{"Amazon Lambda", "Functions"},
		{"Amazon Elastic Block Store", "Block Storage"},
		{"Amazon EBS", "Block Storage"},
		{"Amazon Virtual Private Cloud", "Networking"},
		{"Amazon VPC", "Networking"},
		{"Amazon Route 53", "DNS"},
		{"Amazon CloudWatch", "Monitoring"},
		{"Amazon DynamoDB", "NoSQL Database"},
		{"Amazon ElastiCache", "Cache"},
		{"Amazon API Gateway", "API Gateway"},
		{"AWS Data Transfer", "Data Transfer"},
	},
	provider.ProviderAzure: {
		{"Virtual Machines", "Compute"},
		{"Microsoft.Compute", "Compute"},
		{"Storage", "Object Storage"},
		{"Microsoft.Storage", "Object Storage"},
		{"SQL Database", "Database"},
		{"Microsoft.Sql", "Database"},
		{"App Service", "App Service"},
		{"Microsoft.Web", "App Service"},
		{"Azure Functions", "Functions"},
		{"Azure Kubernetes Service", "Container Service"},
		{"Microsoft.ContainerService", "Container Service"},
		{"Azure Cosmos DB", "NoSQL Database"},
		{"Microsoft.DocumentDB", "NoSQL Database"},
		{"Azure Cache for Redis", "Cache"},
		{"Microsoft.Cache", "Cache"},
		{"Networking", "Networking"},
		{"Microsoft.Network", "Networking"},
		{"Key Vault", "Key Management"},
		{"Microsoft.KeyVault", "Key Management"},
		{"Application Gateway", "Load Balancer"},
		{"Load Balancer", "Load Balancer"},
		{"Azure Monitor", "Monitoring"},
		{"Log Analytics", "Logging"},
	},
	provider.ProviderGCP: {
		{"Compute Engine", "Compute"},
		{"Cloud Storage", "Object Storage"},
		{"Google Cloud Storage", "Object Storage"},
		{"BigQuery", "Data Warehouse"},
		{"Cloud SQL", "Database"},
		{"App Engine", "App Service"},
		{"Cloud Functions", "Functions"},
		{"Google Kubernetes Engine", "Container Service"},
		{"Kubernetes Engine", "Container Service"},
		{"Cloud Run", "Container Service"},
		{"Cloud CDN", "CDN"},
		{"Cloud Load Balancing", "Load Balancer"},
		{"Load Balancing", "Load Balancer"},
		{"Cloud DNS", "DNS"},
		{"Cloud Pub/Sub", "Messaging"},
		{"Cloud Dataflow", "Data Processing"},
		{"Firebase", "Backend as a Service"},
	},
}

var regionMappings = map[provider.ProviderType]map[string]string{
	provider.ProviderAWS: {
		"us-east-1":      "US East (Virginia)",
		"us-east-2":      "US East (Ohio)",
		"us-west-1":      "US West (N. California)",
		"us-west-2":      "US West (Oregon)",
		"eu-west-1":      "Europe (Ireland)",
		"eu-west-2":      "Europe (London)",
		"eu-central-1":   "Europe (Frankfurt)",
		"ap-southeast-1": "Asia Pacific (Singapore)",
		"ap-southeast-2": "Asia Pacific (Sydney)",
		"ap-northeast-1": "Asia Pacific (Tokyo)",
	},
	provider.ProviderAzure: {
		"eastus":             "US East (Virginia)",
		"eastus2":            "US East (Virginia)",
		"westus":             "US West (California)",
		"westus2":            "US West (Washington)",
		"northeurope":        "Europe (Ireland)",
		"westeurope":         "Europe (Netherlands)",
		"uksouth":            "Europe (London)",
		"germanywestcentral": "Europe (Frankfurt)",
		"eastasia":           "Asia Pacific (Hong Kong)",
		"southeastasia":      "Asia Pacific (Singapore)",
		"japaneast":          "Asia Pacific (Tokyo)",
	},
	provider.ProviderGCP: {
		"us-east1":             "US East (South Carolina)",
		"us-east4":             "US East (Virginia)",
		"us-west1":             "US West (Oregon)",
		"us-west2":             "US West (California)",
		"europe-west1":         "Europe (Belgium)",
		"europe-west2":         "Europe (London)",
		"europe-west3":         "Europe (Frankfurt)",
		"asia-southeast1":      "Asia Pacific (Singapore)",
		"asia-northeast1":      "Asia Pacific (Tokyo)",
		"australia-southeast1": "Asia Pacific (Sydney)",
	},
}

// CanonicalService maps a provider service name to its cross-provider
// category: exact match, then case-insensitive, then substring either way.
// Unmapped names are returned unchanged.
func CanonicalService(p provider.ProviderType, name string) string {
	if name == "" {
		return name
	}
	mappings := serviceMappings[p]

	for _, m := range mappings {
		if m.from == name {
			return m.to
		}
	}

	lower := strings.ToLower(name)
	for _, m := range mappings {
		if strings.ToLower(m.from) == lower {
			return m.to
		}
	}

	for _, m := range mappings {
		from := strings.ToLower(m.from)
		if strings.Contains(from, lower) || strings.Contains(lower, from) {
			return m.to
		}
	}
	return name
}

// CanonicalRegion maps a provider region code to a shared display name.
// Unmapped regions are returned unchanged.
func CanonicalRegion(p provider.ProviderType, region string) string {
	if mapped, ok := regionMappings[p][strings.ToLower(region)]; ok {
		return mapped
	}
	return region
}
