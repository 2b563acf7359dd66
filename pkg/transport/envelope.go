package transport

import "encoding/json"

func marshalEnvelope(e envelope) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalEnvelope(data string, e *envelope) error {
	return json.Unmarshal([]byte(data), e)
}
