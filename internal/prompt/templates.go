package prompt

const conciseTemplate = `Briefly describe what you see in this image in two or three sentences of plain prose.`

const detailedTemplate = `Describe this image in detail. Organise the answer into the following sections, each with a short heading:

Overview: what the image shows and its likely purpose.
Objects: the main elements, where they are, and how they relate to each other.
Colors: the dominant colors and the overall palette.
Composition: layout, framing, perspective and style.
Text: any visible text, transcribed exactly.
Mood: the emotional tone and atmosphere.
Notable details: anything unusual or worth pointing out.`

const listTemplate = `List the main elements and facts about this image as a bulleted list.
Start every line with "- ". Give one fact per line, most important first. Do not add an introduction or a conclusion.`

const jsonTemplate = `You are an image analysis system that answers only with JSON.

Rules:
1. Respond with a single valid JSON object and nothing else.
2. Do not wrap the object in markdown code fences.
3. Do not write any text before the opening { or after the closing }.
4. Use double quotes for all keys and strings; no comments, no trailing commas.
5. Confidence values are numbers between 0.0 and 1.0.
6. Colors use hex codes with a # prefix, for example #FF5733.
7. Use empty arrays or objects when nothing applies; never omit a key.

Output structure:
{
  "summary": "string",
  "classification": {
    "primary_category": "string",
    "secondary_categories": ["string"],
    "confidence": 0.0
  },
  "objects": [
    {
      "name": "string",
      "description": "string",
      "location": "string",
      "confidence": 0.0
    }
  ],
  "colors": [
    {
      "name": "string",
      "hex": "#000000",
      "dominance": 0.0
    }
  ],
  "composition": {
    "layout": "string",
    "style": "string",
    "perspective": "string"
  },
  "text": [
    {
      "content": "string",
      "location": "string"
    }
  ],
  "mood": {
    "primary": "string",
    "confidence": 0.0
  },
  "insights": {
    "key_observations": ["string"],
    "unusual_elements": ["string"]
  }
}`
