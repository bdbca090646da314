// Package llm holds the prompt shared by the model providers under it.
package llm

// ExtractionInstruction is the system instruction sent with each inspection document.
const ExtractionInstruction = `Analyze this FDA 483 inspection report PDF and extract key information in JSON format.

IMPORTANT REQUIREMENTS:
1. Each observation must have EXACTLY ONE CFR number (e.g., "§211.22" or "§211.100")
2. Each observation must use ONLY ONE category from this exact list:
   - Poor Documentation
   - Procedures Not Followed
   - Inadequate Investigations (CAPA)
   - Lack of Training
   - Facility & Equipment Issues
   - Validation Failures
   - Inadequate Testing
   - Improper Handling & Storage
   - Poor Record-Keeping
   - Adverse Event Reporting Failures
3. Extract MULTIPLE observations (at least 3-8 observations per document)
4. Each observation should be a distinct, separate finding from the FDA 483 report

For repeatFinding, list any findings explicitly noted as repeated, previously cited,
or continuing violations, including references to prior inspections.`

// ExtractionSchemaHint describes the JSON shape expected back.
const ExtractionSchemaHint = `Return a JSON object with the following structure:
{
  "summary": "2-line summary focusing on key compliance violations",
  "category": "One of the predefined categories above",
  "cfrNumber": "The most relevant CFR section",
  "observations": [
    {"summary": "Brief description", "category": "ONE category", "cfrNumber": "EXACTLY ONE CFR section"}
  ],
  "repeatFinding": ["Findings noted as repeated or previously cited"]
}`
