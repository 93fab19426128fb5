package tsdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const annotatedCSV = "#datatype,string,long,dateTime:RFC3339,double,string,string\r\n" +
	"#group,false,false,false,false,true,true\r\n" +
	"#default,_result,,,,,\r\n" +
	",result,table,_time,_value,_field,_measurement\r\n" +
	",,0,2024-05-01T10:00:00Z,23.45,temperature,SENSOR_DATA\r\n" +
	",,1,2024-05-01T10:00:00Z,61.2,humidity,SENSOR_DATA\r\n" +
	"\r\n"

func TestExtractFieldsMinimal(t *testing.T) {
	got := ExtractFields("_field,_value\ntemperature,23.45\n")
	require.NotNil(t, got.Ptr("temperature"))
	assert.Equal(t, 23.45, *got.Ptr("temperature"))
	assert.Nil(t, got.Ptr("humidity"))
}

func TestExtractFieldsAnnotated(t *testing.T) {
	got := ExtractFields(annotatedCSV)
	assert.Equal(t, Values{"temperature": 23.45, "humidity": 61.2}, got)
}

func TestExtractFieldsEmptyAndHeaderless(t *testing.T) {
	assert.Empty(t, ExtractFields(""))
	assert.Empty(t, ExtractFields("\r\n"))
	assert.Empty(t, ExtractFields("temperature,23.45\nhumidity,50\n"))
	assert.Empty(t, ExtractFields("#datatype,string\n_field,_value\n"))
}

func TestExtractFieldsSkipsBadRows(t *testing.T) {
	body := "_field,_value\n" +
		"temperature,abc\n" +
		"humidity\n" +
		"pump_status,1\n" +
		",5\n"
	assert.Equal(t, Values{"pump_status": 1}, ExtractFields(body))
}

func TestExtractFieldsMultipleTables(t *testing.T) {
	body := ",result,table,_value,_field\n" +
		",_result,0,22.5,temperature\n" +
		"\n" +
		",result,table,_field,_value\n" +
		",_result,1,humidity,58\n"
	assert.Equal(t, Values{"temperature": 22.5, "humidity": 58}, ExtractFields(body))
}

func TestExtractColumn(t *testing.T) {
	body := "#datatype,string,long,string\n" +
		",result,table,_value\n" +
		",_result,0,SENSOR_DATA\n" +
		",_result,0,DWSIM_DATA\n"
	assert.Equal(t, []string{"SENSOR_DATA", "DWSIM_DATA"}, ExtractColumn(body, valueColumn))
	assert.Nil(t, ExtractColumn("", valueColumn))
}

func TestValuesPtrIgnoresEmptyName(t *testing.T) {
	v := Values{"": 1}
	assert.Nil(t, v.Ptr(""))
}
