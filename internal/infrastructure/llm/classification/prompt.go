package classification

import (
	"fmt"
	"strings"
)

const maxSnippet = 6000

// DefaultCategories is used when no category list is configured.
var DefaultCategories = []string{
	"Billing",
	"Meter Reading",
	"Tariff",
	"Payment Plan",
	"Moving",
	"Contract Termination",
	"Bank Details",
	"Complaint",
}

const responseContract = `Return one strict JSON object with exactly these keys:
customer_number (string or null): the customer number this email is about,
category (string or null): the best matching category,
all_customer_numbers (array of strings): every customer number mentioned,
all_categories (array of strings): every matching category,
extracted_information (array of objects {"name": string, "data": object of string values}): named groups of useful facts such as meter readings, bank details or addresses.
Customer numbers consist of exactly 10 letters and digits. Use only categories from the list.
If nothing matches, use null, empty arrays and "Unclassified". No markdown, no extra keys.`

func categoryList(categories []string) string {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	return "- " + strings.Join(categories, "\n- ")
}

func truncate(text string) string {
	if len(text) <= maxSnippet {
		return text
	}
	return strings.ToValidUTF8(text[:maxSnippet], "")
}

// TextPrompt classifies an email body.
func TextPrompt(subject, body string, categories []string) string {
	return fmt.Sprintf(`You classify customer emails sent to a utility provider.

Categories:
%s

%s

Subject: %s

Body:
%s`, categoryList(categories), responseContract, strings.TrimSpace(subject), truncate(strings.TrimSpace(body)))
}

// ImagePrompt classifies an image attachment sent alongside the request.
func ImagePrompt(categories []string) string {
	return fmt.Sprintf(`You classify images attached to customer emails sent to a utility provider,
for example photos of meters, letters or bank cards. Read all visible text.

Categories:
%s

%s`, categoryList(categories), responseContract)
}

// DocumentPrompt classifies text extracted from a PDF attachment.
func DocumentPrompt(text string, categories []string) string {
	return fmt.Sprintf(`You classify PDF documents attached to customer emails sent to a utility provider.

Categories:
%s

%s

Document:
%s`, categoryList(categories), responseContract, truncate(strings.TrimSpace(text)))
}
