package metricskey

import "github.com/effective-security/metrics"

// Perf
var (
	// PerfCryptoOperation is perf metric of cloud and token key operations
	PerfCryptoOperation = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_crypto",
		Help:         "perf_crypto provides the sample metrics of crypto operations",
		RequiredTags: []string{"provider", "action"},
	}

	// PerfCSROperation is perf metric of CSR backend calls
	PerfCSROperation = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_csr",
		Help:         "perf_csr provides the sample metrics of CSR keystore operations",
		RequiredTags: []string{"keystore", "action"},
	}

	// PerfCRLOperation is perf metric of CRL backend calls
	PerfCRLOperation = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_crl",
		Help:         "perf_crl provides the sample metrics of CRL keystore operations",
		RequiredTags: []string{"keystore", "action"},
	}
)

// Metrics returns slice of metrics from this repo
var Metrics = []*metrics.Describe{
	&PerfCryptoOperation,
	&PerfCSROperation,
	&PerfCRLOperation,
}
