// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// which keeps the API key and database password out of the file:
//
//	api:
//	  rest_url: http://studio.local:8000
//	  api_key: ${CONSOLE_API_KEY}
package config
