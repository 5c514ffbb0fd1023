package sqlinline

const QSelectIntegrationToken = `--sql 41227ed5-2aea-402f-93a5-a148efb0c41a
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql 797cdd97-c9ad-437b-ad12-a6eccaaa94b6
insert into integration_tokens (provider, token, properties, updated_at)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now())
on conflict (provider) do update set
  token = excluded.token,
  properties = excluded.properties,
  updated_at = now();
`
