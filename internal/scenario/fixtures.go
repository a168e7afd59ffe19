package scenario

import "encoding/base64"

// Content submitted by the built-in scenarios.
const (
	duplicatedText = `Setup process. Setup process.

The installer copies the binaries into place and writes a default configuration file.
Restart the service after installation. Restart the service after installation.`

	distinctText = `Quarterly revenue grew across every region.
Support resolved most tickets within one business day.
Marketing launched two campaigns aimed at enterprise buyers.`

	noCodeText = `Release notes for the spring update.

This release improves search relevance and shortens page load times.
Administrators do not need to take any action.`

	codeText = "# Calling the API\n\nAuthenticate first, then request a page of results.\n\n" +
		"```python\nimport requests\nresp = requests.get(\"https://api.example.com/items\", timeout=10)\nprint(resp.json())\n```\n\n" +
		"## Shell\n\n```bash\ncurl -s https://api.example.com/items | jq .\n```\n"

	headingsText = `# Overview
The platform ingests documents and generates knowledge base articles.

# Installation
Download the package and run the installer.

## Requirements
A supported operating system and network access.

# Troubleshooting
Check the logs when a job fails.`

	qualityText = `# Getting Started
Follow these steps to create your first project.

1. Sign in to the console.
2. Create a new project.
3. Invite your team.

## Architecture
![Platform architecture](https://cdn.example.com/docs/architecture.png)

The diagram shows how requests flow between services.

## Next Steps
Read the administration guide to configure single sign-on.`

	uploadText = `# Uploaded Guide
This document was uploaded as a file to exercise the multipart pipeline.

# Details
Uploaded files are chunked and turned into articles like any other content.`

	trainingText = `Product onboarding checklist.
Create an account, verify the email address and complete the profile.
Then connect the first data source and schedule a sync.`

	trainingInstructions = "Produce a single, well structured how-to article with a mini table of contents."

	trainingTemplate = "phase1_document_processing"
)

// pixelPNG is a 1x1 transparent PNG.
var pixelPNG = func() []byte {
	data, err := base64.StdEncoding.DecodeString("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")
	if err != nil {
		panic(err)
	}
	return data
}()
